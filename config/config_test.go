package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Fees.NoticePeriodDays)
	assert.False(t, cfg.Fees.RequireApproval)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.StaleAfter)
	tax, err := cfg.TaxPercentage()
	require.NoError(t, err)
	assert.True(t, tax.IsZero())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://fees@localhost/fees
fees:
  default_tax_percentage: "18"
  require_approval: true
scheduler:
  interval: 15m
`), 0o600))
	t.Setenv("FEES_SERVER_PORT", "9191")
	t.Setenv("FEES_FEES_NOTICE_PERIOD_DAYS", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://fees@localhost/fees", cfg.Database.DSN)
	assert.True(t, cfg.Fees.RequireApproval)
	assert.Equal(t, 45, cfg.Fees.NoticePeriodDays)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	tax, err := cfg.TaxPercentage()
	require.NoError(t, err)
	assert.Equal(t, "18", tax.String())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("FEES_DATABASE_DRIVER", "oracle")
	_, err := Load("")
	assert.ErrorContains(t, err, "database.driver")

	t.Setenv("FEES_DATABASE_DRIVER", "sqlite")
	t.Setenv("FEES_FEES_DEFAULT_TAX_PERCENTAGE", "140")
	_, err = Load("")
	assert.ErrorContains(t, err, "default_tax_percentage")
}

func TestLogger_ParsesLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Log.Level = "debug"
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = cfg.Logger()
	assert.Error(t, err)
}
