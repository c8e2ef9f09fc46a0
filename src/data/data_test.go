package data

import (
	"testing"

	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureParam(t *testing.T) {
	assert.Equal(t, "u@tcp(h)/db?parseTime=true", ensureParam("u@tcp(h)/db", "parseTime", "true"))
	assert.Equal(t, "u@tcp(h)/db?a=1&parseTime=true", ensureParam("u@tcp(h)/db?a=1", "parseTime", "true"))
	assert.Equal(t, "u@tcp(h)/db?parseTime=false", ensureParam("u@tcp(h)/db?parseTime=false", "parseTime", "true"))
}

func TestConnectUnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "")
	require.Error(t, err)
}

func TestSettingsRoundTrip(t *testing.T) {
	db, err := ConnectSQLite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.NoError(t, db.Create(&types.Setting{Name: "charity_wallet", Value: "CharityWallet111", Active: 1}).Error)
	retired := types.Setting{Name: "service_wallet", Value: "old"}
	require.NoError(t, db.Create(&retired).Error)
	require.NoError(t, db.Model(&retired).Update("active", 0).Error)
	require.NoError(t, LoadSettings(db))

	assert.Equal(t, "CharityWallet111", GetSetting("charity_wallet"))
	assert.Empty(t, GetSetting("service_wallet"))
}
