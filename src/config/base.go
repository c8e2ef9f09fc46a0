// Package config loads process configuration from the environment, an
// optional .env file and the settings table.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/stake-plus/questdao/src/data"
)

// Prefix is the environment prefix of every variable, e.g. QUESTD_PORT.
// Unprefixed names are accepted as a fallback.
const Prefix = "QUESTD"

// Config contains every process-level setting.
type Config struct {
	DBDriver string `envconfig:"DB_DRIVER" default:"mysql" validate:"oneof=mysql sqlite"`
	// MySQLDSN is the MySQL DSN, or the SQLite file path when DBDriver is
	// sqlite (empty means in-memory).
	MySQLDSN string `envconfig:"MYSQL_DSN" validate:"required_if=DBDriver mysql"`
	RedisURL string `envconfig:"REDIS_URL"`

	Port         string   `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	JWTSecret    string   `envconfig:"JWT_SECRET" validate:"omitempty,min=16"`
	AllowOrigins []string `envconfig:"ALLOW_ORIGINS"`
	// AdminWallets is a comma separated list; the admin_wallets setting
	// overrides it at runtime.
	AdminWallets string `envconfig:"ADMIN_WALLETS"`
	RateLimit    int    `envconfig:"RATE_LIMIT" default:"60" validate:"min=1"`

	LedgerURL     string        `envconfig:"LEDGER_URL" validate:"required,url"`
	LedgerAPIKey  string        `envconfig:"LEDGER_API_KEY"`
	LedgerTimeout time.Duration `envconfig:"LEDGER_TIMEOUT" default:"30s" validate:"gt=0"`
	TxExpiry      time.Duration `envconfig:"TX_EXPIRY" default:"10m" validate:"gt=0"`

	IndexerURL    string        `envconfig:"INDEXER_URL" validate:"omitempty,url"`
	PowerCacheTTL time.Duration `envconfig:"POWER_CACHE_TTL" default:"5m"`

	TiePolicy       string        `envconfig:"TIE_POLICY" default:"affirmative" validate:"oneof=affirmative negative"`
	RewardPrecision int32         `envconfig:"REWARD_PRECISION" default:"9" validate:"min=0,max=18"`
	BettingWindow   time.Duration `envconfig:"BETTING_WINDOW" default:"168h" validate:"gt=0"`
	DecisionWindow  time.Duration `envconfig:"DECISION_WINDOW" default:"72h" validate:"gt=0"`
	AnswerWindow    time.Duration `envconfig:"ANSWER_WINDOW" default:"72h" validate:"gt=0"`

	SweepSchedule    string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m" validate:"required"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	PendingMinAge    time.Duration `envconfig:"PENDING_MIN_AGE" default:"2m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	// CharityWallet and ServiceWallet seed the fee beneficiaries; the
	// charity_wallet and service_wallet settings override them at runtime.
	CharityWallet string `envconfig:"CHARITY_WALLET"`
	ServiceWallet string `envconfig:"SERVICE_WALLET"`
}

var validate = validator.New()

// Load reads an optional .env file, then the environment, and validates
// the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	cfg.TiePolicy = strings.ToLower(strings.TrimSpace(cfg.TiePolicy))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of c.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Setting returns a getter that prefers the settings table, then the
// QUESTD_<NAME> variable, over fallback.
func (c *Config) Setting(setting, fallback string) func() string {
	envKey := Prefix + "_" + strings.ToUpper(setting)
	return func() string { return GetSetting(setting, envKey, fallback) }
}

// Admins returns a getter for the operator wallets.
func (c *Config) Admins() func() []string {
	get := c.Setting("admin_wallets", c.AdminWallets)
	return func() []string {
		var out []string
		for _, w := range strings.Split(get(), ",") {
			if w = strings.TrimSpace(w); w != "" {
				out = append(out, w)
			}
		}
		return out
	}
}

// GetSetting retrieves a setting with env fallback
func GetSetting(name, envKey, defaultValue string) string {
	val := data.GetSetting(name)
	if val == "" {
		val = os.Getenv(envKey)
	}
	if val == "" {
		val = defaultValue
	}
	return val
}
