package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	data := `SERVER_ADDRESS=127.0.0.1:9000
POSTGRES_USERNAME=app
POSTGRES_PASSWORD=secret
POSTGRES_HOST=db
POSTGRES_PORT=5432
POSTGRES_DATABASE=marketplace
SWEEP_INTERVAL=30s
TENDER_DEFAULT_WATERFALL_TIMEOUT=15m
TX_MAX_RETRIES=5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(data), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server_address", cfg.ServerAddress, "127.0.0.1:9000"},
		{"store", cfg.Store, StorePostgres},
		{"postgres_conn", cfg.PostgresConn, "postgres://app:secret@db:5432/marketplace?sslmode=disable"},
		{"sweep_interval", cfg.SweepInterval, 30 * time.Second},
		{"waterfall_timeout", cfg.WaterfallDefaultTimeout, 15 * time.Minute},
		{"bid_ttl_default", cfg.BidDefaultTTL, 24 * time.Hour},
		{"tx_retries", cfg.TxMaxRetries, 5},
		{"request_timeout_default", cfg.RequestTimeout, 5 * time.Second},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
}

func TestLoadConfigEnvOverridesAndMissingFile(t *testing.T) {
	t.Setenv("STORE", StoreMemory)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.MetricsEnabled)
}

func TestValidate(t *testing.T) {
	base := Config{
		Store:                   StoreMemory,
		SweepInterval:           time.Minute,
		BidDefaultTTL:           time.Hour,
		TenderDefaultTTL:        time.Hour,
		WaterfallDefaultTimeout: time.Minute,
	}
	require.NoError(t, base.Validate())

	noConn := base
	noConn.Store = StorePostgres
	assert.Error(t, noConn.Validate())

	unknown := base
	unknown.Store = "redis"
	assert.Error(t, unknown.Validate())

	badInterval := base
	badInterval.SweepInterval = 0
	assert.Error(t, badInterval.Validate())

	badRetries := base
	badRetries.TxMaxRetries = -1
	assert.Error(t, badRetries.Validate())
}
