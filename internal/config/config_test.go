package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, time.Minute, c.MaxTimeLimit)
	assert.True(t, c.DBMigrate)
	assert.Equal(t, "dev", c.AuthMode)
	assert.Empty(t, c.DatabaseURL)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/routes")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("FLEETROUTE_WORKERS", "4")

	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, "postgres://localhost/routes", c.DatabaseURL)
	assert.False(t, c.DBMigrate)
	assert.Equal(t, 4, c.Workers)
}

func TestFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FLEETROUTE_WORKERS", "4")
	c, err := Load([]string{"--addr", "127.0.0.1:7000", "--workers", "3"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", c.Addr)
	assert.Equal(t, 3, c.Workers)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetroute.yaml")
	doc := "workers: 6\nmax-time-limit: 30s\nsolve-rps: 2.5\nlog-level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 6, c.Workers)
	assert.Equal(t, 30*time.Second, c.MaxTimeLimit)
	assert.InDelta(t, 2.5, c.SolveRPS, 1e-9)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no workers", []string{"--workers", "0"}},
		{"negative rps", []string{"--solve-rps", "-1"}},
		{"default above max", []string{"--default-time-limit", "2m", "--max-time-limit", "1m"}},
		{"hmac without secret", []string{"--auth-mode", "hmac"}},
		{"unknown auth", []string{"--auth-mode", "oauth"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
