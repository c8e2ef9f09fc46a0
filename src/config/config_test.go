package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/questdao/src/data"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUESTD_DB_DRIVER", "sqlite")
	t.Setenv("QUESTD_LEDGER_URL", "http://ledger.local:9000")
	t.Setenv("TIE_POLICY", " Negative ")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.BettingWindow)
	assert.EqualValues(t, 9, cfg.RewardPrecision)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, "negative", cfg.TiePolicy)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("QUESTD_DB_DRIVER", "mysql")
	t.Setenv("QUESTD_LEDGER_URL", "http://ledger.local")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err, "mysql without a DSN")

	t.Setenv("QUESTD_MYSQL_DSN", "u:p@tcp(db)/quests")
	t.Setenv("QUESTD_TIE_POLICY", "coinflip")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("QUESTD_TIE_POLICY", "affirmative")
	t.Setenv("QUESTD_LEDGER_TIMEOUT", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("QUESTD_DB_DRIVER", "sqlite")
	t.Setenv("QUESTD_LEDGER_URL", "http://ledger.local")
	t.Cleanup(func() { _ = os.Unsetenv("QUESTD_SWEEP_CONCURRENCY") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("QUESTD_SWEEP_CONCURRENCY=7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.SweepConcurrency)
}

func TestWalletPrefersSettings(t *testing.T) {
	db, err := data.ConnectSQLite("")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))

	cfg := &Config{CharityWallet: "charity-env", ServiceWallet: "service-env"}
	charity := cfg.Setting("charity_wallet", cfg.CharityWallet)
	service := cfg.Setting("service_wallet", cfg.ServiceWallet)
	require.NoError(t, data.LoadSettings(db))
	assert.Equal(t, "charity-env", charity())

	require.NoError(t, db.Create(&types.Setting{Name: "charity_wallet", Value: "charity-db", Active: 1}).Error)
	require.NoError(t, data.LoadSettings(db))
	assert.Equal(t, "charity-db", charity())
	assert.Equal(t, "service-env", service())

	t.Setenv("QUESTD_SERVICE_WALLET", "service-override")
	assert.Equal(t, "service-override", service())

	cfg.AdminWallets = " one, ,two "
	assert.Equal(t, []string{"one", "two"}, cfg.Admins()())
}
