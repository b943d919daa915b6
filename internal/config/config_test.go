package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budgetstore.yaml")
	data := []byte(`
server:
  grpc_port: 6000
storage:
  in_memory: true
  path: ""
engine:
  severity_threshold: 0.5
  session_timeout: 5m
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.GRPCPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort, "untouched keys keep their defaults")
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 0.5, cfg.Engine.SeverityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Engine.SessionTimeout)
	assert.Equal(t, 0.05, cfg.Engine.PriceFloorRatio)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BUDGETSTORE_GRPC_PORT", "7000")
	t.Setenv("BUDGETSTORE_LOG_LEVEL", "debug")
	t.Setenv("BUDGETSTORE_IN_MEMORY", "true")
	t.Setenv("BUDGETSTORE_SESSION_TIMEOUT", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.GRPCPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 90*time.Second, cfg.Engine.SessionTimeout)
}

func TestInvalidEnvValue(t *testing.T) {
	_, err := applyEnvFrom(map[string]string{"BUDGETSTORE_METRICS_PORT": "ninety"})
	assert.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]func(*Config){
		"same ports":        func(c *Config) { c.Server.MetricsPort = c.Server.GRPCPort },
		"missing db path":   func(c *Config) { c.Storage.Path = "" },
		"threshold above 1": func(c *Config) { c.Engine.SeverityThreshold = 1.5 },
		"unknown log level": func(c *Config) { c.Log.Level = "trace" },
		"zero feed workers": func(c *Config) { c.Engine.FeedConcurrency = 0 },
		"missing journal":   func(c *Config) { c.Journal.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInMemoryAllowsEmptyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = ""
	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func applyEnvFrom(env map[string]string) (Config, error) {
	cfg := DefaultConfig()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	return cfg, err
}
