package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		shouldErr bool
		check     func(t *testing.T, cfg Config)
	}{
		{
			name: "Defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, Default(), cfg)
				assert.Equal(t, 48*time.Hour, cfg.SessionTTL)
				assert.Equal(t, "reconcile", cfg.Arbitration)
			},
		},
		{
			name: "Overrides",
			env: map[string]string{
				"STORE_BACKEND":         "memory",
				"SESSION_TTL":           "10m",
				"SESSION_ARBITRATION":   "adopt",
				"STRICT_EPHEMERAL_KEYS": "false",
				"REDIS_DB":              "3",
				"ENVIRONMENT":           "Production",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, StoreMemory, cfg.StoreBackend)
				assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
				assert.Equal(t, "adopt", cfg.Arbitration)
				assert.False(t, cfg.StrictEphemeralKeys)
				assert.Equal(t, 3, cfg.RedisDB)
				assert.True(t, cfg.IsProduction())
			},
		},
		{"Bad duration", map[string]string{"SESSION_TTL": "two days"}, true, nil},
		{"Negative TTL", map[string]string{"SESSION_TTL": "-1h"}, true, nil},
		{"Unknown backend", map[string]string{"STORE_BACKEND": "mongo"}, true, nil},
		{"Unknown arbitration", map[string]string{"SESSION_ARBITRATION": "first-wins"}, true, nil},
		{"Bad bool", map[string]string{"STRICT_EPHEMERAL_KEYS": "maybe"}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(func(k string) string { return tt.env[k] })
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CLEANUP_INTERVAL=5m\n"), 0o600))
	t.Setenv("CLEANUP_INTERVAL", "")
	os.Unsetenv("CLEANUP_INTERVAL")

	cfg, err := Load(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
}
