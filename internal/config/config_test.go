package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scriptserve/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:8888", cfg.Address())
	assert.Equal(t, "json", cfg.PayloadFormat)
	assert.Equal(t, "starlark", cfg.Engine)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, time.Duration(0), cfg.ExecTimeout())
	assert.Equal(t, 0, cfg.MaxConnections)
	assert.Equal(t, logger.LevelInfo, cfg.Level())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000, "payload_format": "B", "engine": "lua"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "B", cfg.PayloadFormat)
	assert.Equal(t, "lua", cfg.Engine)
	// untouched fields keep their defaults
	assert.Equal(t, "localhost", cfg.Host)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "host: 0.0.0.0\nport: 7000\nlog_level: debug\nmax_connections: 4\nexec_timeout_ms: 1500\nadmin_address: 127.0.0.1:9090\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Address())
	assert.Equal(t, logger.LevelDebug, cfg.Level())
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, 1500*time.Millisecond, cfg.ExecTimeout())
	assert.Equal(t, "127.0.0.1:9090", cfg.AdminAddress)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": `), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogPath, "/tmp/scriptserve.log")
	t.Setenv(EnvAddress, "127.0.0.1:5555")
	t.Setenv(EnvFormat, "cbor")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000, "log_level": "debug"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/scriptserve.log", cfg.LogPath)
	assert.Equal(t, "127.0.0.1:5555", cfg.Address())
	assert.Equal(t, "cbor", cfg.PayloadFormat)
}

func TestEnvAddressInvalid(t *testing.T) {
	t.Setenv(EnvAddress, "no-port")

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"format", func(c *Config) { c.PayloadFormat = "xml" }},
		{"engine", func(c *Config) { c.Engine = "python" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"poll interval", func(c *Config) { c.PollIntervalMS = 1 }},
		{"script size", func(c *Config) { c.MaxScriptSize = 0 }},
		{"connections", func(c *Config) { c.MaxConnections = -1 }},
		{"exec timeout", func(c *Config) { c.ExecTimeoutMS = -5 }},
		{"admin address", func(c *Config) { c.AdminAddress = "9090" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Port = 1234
			cfg.Engine = "lua"
			cfg.PidFile = "/run/scriptserve.pid"
			require.NoError(t, cfg.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		levels []string
	)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, cfg.LogLevel)
	}))

	// invalid content is skipped
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0644))
	time.Sleep(3 * reloadDelay)
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, levels, "loud")
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "config.json"), func(*Config) {})
	assert.Error(t, err)
}
