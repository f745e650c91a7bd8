package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.DB.URL, "postgres://")
	assert.Equal(t, 10, cfg.DB.MaxOpenConns)
	assert.Equal(t, "migrations", cfg.DB.MigrationsDir)

	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Len(t, cfg.Chain.Endpoints, 3)
	assert.Equal(t, 120*time.Second, cfg.Chain.ReceiptWait)
	assert.Equal(t, float64(5), cfg.Chain.RPCRatePerSec)

	assert.Equal(t, 5*time.Second, cfg.Engine.SubmitInterval)
	assert.Equal(t, 120*time.Second, cfg.Engine.RetryInterval)
	assert.Equal(t, 300*time.Second, cfg.Engine.VerifyInterval)
	assert.Equal(t, 5, cfg.Engine.SweepBatch)
	assert.Equal(t, 10, cfg.Engine.RetryBatch)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Engine.ErrorBackoff)

	assert.Equal(t, 8080, cfg.Server.AdminPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 15*time.Minute, cfg.Alert.Cooldown)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://u:p@db:5432/app")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("CHAIN_RPC_ENDPOINTS", " https://a.example , https://b.example ,")
	t.Setenv("ENGINE_SUBMIT_INTERVAL_SEC", "1")
	t.Setenv("ENGINE_SWEEP_BATCH", "25")
	t.Setenv("ADMIN_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALERT_SLACK_WEBHOOK_URL", "https://hooks.slack.example/x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.DB.URL)
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chain.Endpoints)
	assert.Equal(t, time.Second, cfg.Engine.SubmitInterval)
	assert.Equal(t, 25, cfg.Engine.SweepBatch)
	assert.Equal(t, 9999, cfg.Server.AdminPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://hooks.slack.example/x", cfg.Alert.SlackWebhookURL)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("ENGINE_RETRY_BATCH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Engine.RetryBatch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing chain id",
			mutate:  func(c *Config) { c.Chain.ChainID = 0 },
			wantErr: "CHAIN_ID",
		},
		{
			name:    "no endpoints",
			mutate:  func(c *Config) { c.Chain.Endpoints = nil },
			wantErr: "CHAIN_RPC_ENDPOINTS",
		},
		{
			name:    "zero sweep batch",
			mutate:  func(c *Config) { c.Engine.SweepBatch = 0 },
			wantErr: "batch sizes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
