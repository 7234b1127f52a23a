/*
Package config loads server settings.

SOURCES (later wins):
  1. Defaults (the binary runs with no file and no environment)
  2. Optional YAML file (-config flag, default configs/config.yaml)
  3. .env file in the working directory, if present
  4. FEES_* environment variables, e.g. FEES_DATABASE_DSN,
     FEES_FEES_REQUIRE_APPROVAL, FEES_SERVER_PORT

KEYS:
  server.port                   8080
  server.cors_allowed_origins   [http://localhost:5173, http://localhost:8080]
  database.driver               sqlite | postgres
  database.dsn                  fees.db
  fees.default_tax_percentage   0
  fees.require_approval         false
  fees.notice_period_days       30
  log.level                     info
  log.development               false
  scheduler.enabled             true
  scheduler.interval            1h
  scheduler.stale_after         168h
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server struct {
		Port               int      `mapstructure:"port"`
		CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Fees struct {
		DefaultTaxPercentage string `mapstructure:"default_tax_percentage"`
		RequireApproval      bool   `mapstructure:"require_approval"`
		NoticePeriodDays     int    `mapstructure:"notice_period_days"`
	} `mapstructure:"fees"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Scheduler struct {
		Enabled    bool          `mapstructure:"enabled"`
		Interval   time.Duration `mapstructure:"interval"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"scheduler"`
}

const DefaultFile = "configs/config.yaml"

// Load reads configuration. A missing file is not an error; a malformed
// one is.
func Load(path string) (*Config, error) {
	// .env is optional (absent in production)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("FEES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fees.db")
	v.SetDefault("fees.default_tax_percentage", "0")
	v.SetDefault("fees.require_approval", false)
	v.SetDefault("fees.notice_period_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.stale_after", "168h")
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	tax, err := c.TaxPercentage()
	if err != nil {
		return err
	}
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("fees.default_tax_percentage must be between 0 and 100, got %s", tax)
	}
	if c.Fees.NoticePeriodDays < 0 {
		return fmt.Errorf("fees.notice_period_days must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
	}
	return nil
}

// TaxPercentage parses fees.default_tax_percentage.
func (c *Config) TaxPercentage() (decimal.Decimal, error) {
	s := strings.TrimSpace(c.Fees.DefaultTaxPercentage)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fees.default_tax_percentage: %w", err)
	}
	return d, nil
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
