package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 7878},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "test.db"},
		Storage:  StorageConfig{BaseDir: "./data"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Worker: WorkerConfig{
			ChunkSize:      2 * 1024 * 1024,
			MaxMessageSize: 4 * 1024 * 1024,
		},
		Jobs:     JobsConfig{LogLines: 400, ErrorTailLines: 60},
		Datamosh: DatamoshConfig{SceneThreshold: 0.3, Intensity: 1},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7878, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "moshr.db", cfg.Database.DSN)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Equal(t, int64(2*1024*1024), cfg.Worker.ChunkSize.Bytes())
	assert.Equal(t, int64(4*1024*1024), cfg.Worker.MaxMessageSize.Bytes())
	assert.Equal(t, 10*time.Second, cfg.Worker.StartupTimeout)

	assert.Equal(t, 400, cfg.Jobs.LogLines)
	assert.Equal(t, 60, cfg.Jobs.ErrorTailLines)
	assert.Equal(t, 10*time.Second, cfg.Jobs.ShutdownTimeout)

	assert.InDelta(t, 0.3, cfg.Datamosh.SceneThreshold, 1e-9)
	assert.Equal(t, 250, cfg.Datamosh.GOPSize)
	assert.Zero(t, cfg.Datamosh.MoshLength)
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  read_timeout: 60s
storage:
  base_dir: "/var/lib/moshr"
logging:
  level: "debug"
worker:
  chunk_size: "1MiB"
jobs:
  history_retention: 2 weeks
datamosh:
  mosh_length: 2.5
  gop_size: 120
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/moshr", cfg.Storage.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, int64(1024*1024), cfg.Worker.ChunkSize.Bytes())
	assert.Equal(t, 14*24*time.Hour, cfg.Jobs.HistoryRetention)
	assert.InDelta(t, 2.5, cfg.Datamosh.MoshLength, 1e-9)
	assert.Equal(t, 120, cfg.Datamosh.GOPSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MOSHR_SERVER_PORT", "9191")
	t.Setenv("MOSHR_JOBS_LOG_LINES", "200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Jobs.LogLines)
}

func TestLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"missing base dir", func(c *Config) { c.Storage.BaseDir = "" }, "storage.base_dir"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero chunk", func(c *Config) { c.Worker.ChunkSize = 0 }, "worker.chunk_size"},
		{"chunk too large", func(c *Config) { c.Worker.ChunkSize = 3 * 1024 * 1024 }, "max_message_size"},
		{"tail exceeds ring", func(c *Config) { c.Jobs.ErrorTailLines = 500 }, "error_tail_lines"},
		{"threshold range", func(c *Config) { c.Datamosh.SceneThreshold = 1.5 }, "scene_threshold"},
		{"intensity range", func(c *Config) { c.Datamosh.Intensity = -0.1 }, "intensity"},
		{"negative mosh length", func(c *Config) { c.Datamosh.MoshLength = -1 }, "mosh_length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
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

func TestStoragePaths(t *testing.T) {
	s := StorageConfig{BaseDir: "/data", PreviewDir: "previews", LogDir: "/var/log/moshr"}
	assert.Equal(t, filepath.Join("/data", "previews"), s.PreviewPath())
	assert.Equal(t, "/var/log/moshr", s.LogPath())

	w := WorkerConfig{}
	assert.Equal(t, filepath.Join("/data", "workerd.sock"), w.Socket("/data"))
	w.SocketPath = "/run/moshr.sock"
	assert.Equal(t, "/run/moshr.sock", w.Socket("/data"))
}
