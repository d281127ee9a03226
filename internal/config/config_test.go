package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inDir runs the test from dir, with a fresh viper instance.
func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	viper.Reset()
	t.Cleanup(func() {
		os.Chdir(wd)
		viper.Reset()
	})
}

func TestLoadDefaults(t *testing.T) {
	inDir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "./data/devtest.db", cfg.Database.Path)
	assert.Equal(t, time.Second, cfg.Execution.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.Execution.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Execution.DialTimeout)
	assert.Equal(t, 1000, cfg.MQTT.QueueCapacity)
	assert.Equal(t, "@every 10s", cfg.MQTT.SweepSpec)
	assert.Equal(t, 5*time.Second, cfg.Discovery.BrowseTimeout)
	assert.ElementsMatch(t, []string{"_ssh._tcp", "_sftp-ssh._tcp", "_mqtt._tcp"}, cfg.Discovery.Services)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(`
server:
  port: 8080
execution:
  settle_delay: 250ms
  default_timeout: 30s
  dial_timeout: 3s
  max_concurrent: 2
`), 0o644))
	inDir(t, dir)
	t.Setenv("DEVTEST_MQTT_QUEUE_CAPACITY", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Execution.SettleDelay)
	assert.Equal(t, 2, cfg.Execution.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Execution.DefaultTimeout)
	assert.Equal(t, 3*time.Second, cfg.Execution.DialTimeout)
	assert.Equal(t, 50, cfg.MQTT.QueueCapacity)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 3001, Host: "0.0.0.0"},
			Database:  DatabaseConfig{Path: "x.db", MaxConnections: 1},
			Execution: ExecutionConfig{DefaultTimeout: time.Second, AttachmentsDir: "./plans", ResultWorkers: 1},
			MQTT:      MQTTConfig{QueueCapacity: 1, QueueMaxAge: time.Second, SweepSpec: "@every 1s"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "negative settle", mutate: func(c *Config) { c.Execution.SettleDelay = -time.Second }, wantErr: "settle_delay"},
		{name: "negative dial timeout", mutate: func(c *Config) { c.Execution.DialTimeout = -time.Second }, wantErr: "dial_timeout"},
		{name: "no sweep", mutate: func(c *Config) { c.MQTT.SweepSpec = "" }, wantErr: "sweep_spec"},
		{
			name: "discovery without services",
			mutate: func(c *Config) {
				c.Discovery.Enabled = true
				c.Discovery.Services = nil
			},
			wantErr: "discovery.services",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
