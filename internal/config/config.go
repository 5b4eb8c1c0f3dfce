// Package config provides configuration management for moshr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/moshr/pkg/duration"
)

// EnvPrefix is the prefix for environment variable overrides (MOSHR_SERVER_PORT).
const EnvPrefix = "MOSHR"

// Default configuration values.
const (
	defaultServerPort        = 7878
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 4
	defaultMaxIdleConns      = 2
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultLogRingLines      = 400
	defaultErrorTailLines    = 60
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultWorkerStartup     = 10 * time.Second
	defaultWorkerShutdown    = 5 * time.Second
	defaultChunkSize         = 2 * 1024 * 1024
	defaultMaxMessageSize    = 4 * 1024 * 1024
	defaultPreviewSessionTTL = 2 * time.Minute
	defaultSceneThreshold    = 0.3
	defaultGOPSize           = 250
	defaultIntensity         = 1.0
	defaultBinaryCacheTTL    = time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Datamosh  DatamoshConfig  `mapstructure:"datamosh"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig holds job history database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir" yaml:"base_dir"`
	PreviewDir string `mapstructure:"preview_dir" yaml:"preview_dir"`
	LogDir     string `mapstructure:"log_dir" yaml:"log_dir"`
	// PreviewRetention is how long rendered preview frames are kept.
	PreviewRetention time.Duration `mapstructure:"preview_retention" yaml:"preview_retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// FFmpegConfig holds transcoding engine binary configuration.
type FFmpegConfig struct {
	BinaryPath string        `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath  string        `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	CacheTTL   time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// WorkerConfig holds native worker daemon configuration.
type WorkerConfig struct {
	BinaryPath      string        `mapstructure:"binary_path" yaml:"binary_path"`
	SocketPath      string        `mapstructure:"socket_path" yaml:"socket_path"` // empty = {base_dir}/workerd.sock
	AuthToken       string        `mapstructure:"auth_token" yaml:"auth_token"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	SessionTTL      time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	// ChunkSize bounds a single preview append; must stay under MaxMessageSize
	// after base64 expansion.
	ChunkSize      ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxMessageSize ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// JobsConfig holds job coordinator configuration.
type JobsConfig struct {
	LogLines         int           `mapstructure:"log_lines" yaml:"log_lines"`
	ErrorTailLines   int           `mapstructure:"error_tail_lines" yaml:"error_tail_lines"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	HistoryRetention time.Duration `mapstructure:"history_retention" yaml:"history_retention"`
	TaskbarProgress  bool          `mapstructure:"taskbar_progress" yaml:"taskbar_progress"`
}

// DatamoshConfig holds default datamosh parameters used when a request omits them.
type DatamoshConfig struct {
	SceneThreshold float64 `mapstructure:"scene_threshold" yaml:"scene_threshold"`
	GOPSize        int     `mapstructure:"gop_size" yaml:"gop_size"`
	MoshLength     float64 `mapstructure:"mosh_length" yaml:"mosh_length"` // seconds, 0 = until end of clip
	Intensity      float64 `mapstructure:"intensity" yaml:"intensity"`
	CRF            int     `mapstructure:"crf" yaml:"crf"`
	Preset         string  `mapstructure:"preset" yaml:"preset"`
}

// SchedulerConfig holds maintenance schedules (6-field cron).
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	PreviewSweep string `mapstructure:"preview_sweep" yaml:"preview_sweep"`
	HistoryPrune string `mapstructure:"history_prune" yaml:"history_prune"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: MOSHR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.moshr")
		v.AddConfigPath("/etc/moshr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates a populated viper instance.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// stringToDurationHook decodes durations with day and week units, such
// as "30d", in addition to the forms time.ParseDuration accepts.
func stringToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeFor[time.Duration]() {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // SSE streams stay open
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "moshr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.preview_dir", "previews")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.preview_retention", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.cache_ttl", defaultBinaryCacheTTL)

	v.SetDefault("worker.binary_path", "")
	v.SetDefault("worker.socket_path", "")
	v.SetDefault("worker.auth_token", "")
	v.SetDefault("worker.startup_timeout", defaultWorkerStartup)
	v.SetDefault("worker.shutdown_timeout", defaultWorkerShutdown)
	v.SetDefault("worker.session_ttl", defaultPreviewSessionTTL)
	v.SetDefault("worker.chunk_size", defaultChunkSize)
	v.SetDefault("worker.max_message_size", defaultMaxMessageSize)

	v.SetDefault("jobs.log_lines", defaultLogRingLines)
	v.SetDefault("jobs.error_tail_lines", defaultErrorTailLines)
	v.SetDefault("jobs.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("jobs.history_retention", defaultHistoryRetention)
	v.SetDefault("jobs.taskbar_progress", false)

	v.SetDefault("datamosh.scene_threshold", defaultSceneThreshold)
	v.SetDefault("datamosh.gop_size", defaultGOPSize)
	v.SetDefault("datamosh.mosh_length", 0)
	v.SetDefault("datamosh.intensity", defaultIntensity)
	v.SetDefault("datamosh.crf", 20)
	v.SetDefault("datamosh.preset", "medium")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.preview_sweep", "0 */10 * * * *")
	v.SetDefault("scheduler.history_prune", "0 30 3 * * *")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Worker.ChunkSize <= 0 {
		return fmt.Errorf("worker.chunk_size must be positive")
	}
	// base64 inflates each chunk by 4/3 on the wire.
	if c.Worker.ChunkSize.Bytes()*4/3 >= c.Worker.MaxMessageSize.Bytes() {
		return fmt.Errorf("worker.chunk_size %s does not fit max_message_size %s once encoded",
			c.Worker.ChunkSize, c.Worker.MaxMessageSize)
	}

	if c.Jobs.LogLines < 1 {
		return fmt.Errorf("jobs.log_lines must be at least 1")
	}
	if c.Jobs.ErrorTailLines < 0 || c.Jobs.ErrorTailLines > c.Jobs.LogLines {
		return fmt.Errorf("jobs.error_tail_lines must be between 0 and jobs.log_lines")
	}

	if c.Datamosh.SceneThreshold < 0 || c.Datamosh.SceneThreshold > 1 {
		return fmt.Errorf("datamosh.scene_threshold must be within [0,1]")
	}
	if c.Datamosh.Intensity < 0 || c.Datamosh.Intensity > 1 {
		return fmt.Errorf("datamosh.intensity must be within [0,1]")
	}
	if c.Datamosh.MoshLength < 0 {
		return fmt.Errorf("datamosh.mosh_length must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PreviewPath returns the directory rendered preview frames are written to.
func (c *StorageConfig) PreviewPath() string {
	if filepath.IsAbs(c.PreviewDir) {
		return c.PreviewDir
	}
	return filepath.Join(c.BaseDir, c.PreviewDir)
}

// LogPath returns the directory archived job logs are written to.
func (c *StorageConfig) LogPath() string {
	if filepath.IsAbs(c.LogDir) {
		return c.LogDir
	}
	return filepath.Join(c.BaseDir, c.LogDir)
}

// Socket returns the worker socket path, defaulting under the storage base dir.
func (c *WorkerConfig) Socket(baseDir string) string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(baseDir, "workerd.sock")
}
