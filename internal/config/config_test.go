package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"BUYVIA_API_URL", "BUYVIA_TIMEOUT", "BUYVIA_SETTLE_DELAY", "BUYVIA_CONFIG_DIR", "BUYVIA_DEBUG"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3*time.Second, cfg.SettleDelay)
	assert.Empty(t, cfg.ConfigDir)
	assert.False(t, cfg.Debug)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BUYVIA_API_URL", "https://api.buyvia.example")
	t.Setenv("BUYVIA_TIMEOUT", "5s")
	t.Setenv("BUYVIA_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.buyvia.example", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Debug)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buyvia.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://files.example:9000\nsettle_delay: 1s\n"), 0o600))
	t.Setenv("BUYVIA_SETTLE_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://files.example:9000", cfg.APIURL)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"relative url", "BUYVIA_API_URL", "localhost:8000/api"},
		{"zero timeout", "BUYVIA_TIMEOUT", "0s"},
		{"unparsable timeout", "BUYVIA_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
