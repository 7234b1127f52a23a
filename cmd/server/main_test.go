package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/fee-engine/config"
)

func testConfig(port int) *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = port
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Fees.DefaultTaxPercentage = "0"
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = time.Hour
	return cfg
}

func TestRun_ReturnsDatabaseError(t *testing.T) {
	cfg := testConfig(0)
	cfg.Database.Driver = "oracle"

	err := run(cfg, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestRun_ListenFailureStillCleansUp(t *testing.T) {
	// GIVEN: The configured port is already taken
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	core, logs := observer.New(zap.InfoLevel)

	// WHEN
	err = run(testConfig(port), zap.New(core))

	// THEN: The error comes back to the caller and the scheduler was stopped
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("scheduler started").Len())
	assert.Equal(t, 1, logs.FilterMessage("scheduler stopped").Len())
}
