// Package cmd implements the CLI commands for moshr-workerd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/observability"
	"github.com/jmylchreest/moshr/internal/version"
)

// workerViper is kept apart from the application's configuration; the
// worker is configured by its parent through flags and environment.
var workerViper = viper.New()

var rootCmd = &cobra.Command{
	Use:     version.WorkerName,
	Short:   "Native frame and bitstream worker for moshr",
	Version: version.Short(),
	Long: `moshr-workerd is the out-of-process native worker started by moshr.

It serves a gRPC API on a unix socket that moshes H.264 bitstreams, renders
pixel effects and processes live preview frames. It is normally spawned and
supervised by moshr rather than run by hand.

Environment:
  MOSHR_WORKER_AUTH_TOKEN  - token every RPC must carry
  MOSHR_FFMPEG_BINARY_PATH - explicit ffmpeg path used by Render`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

func initConfig() {
	workerViper.SetEnvPrefix(config.EnvPrefix)
	workerViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	workerViper.AutomaticEnv()

	workerViper.SetDefault("worker.auth_token", "")
	workerViper.SetDefault("ffmpeg.binary_path", "")
	workerViper.SetDefault("logging.level", "info")
	workerViper.SetDefault("logging.format", "json")
}

// initLogging applies CLI flags over environment values. The parent reads
// our stderr as JSON, so json stays the default.
func initLogging() error {
	level := workerViper.GetString("logging.level")
	format := workerViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	if level == "warning" {
		level = "warn"
	}

	logger := observability.NewLoggerWithWriter(config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}, os.Stderr)
	slog.SetDefault(observability.WithApp(logger, version.WorkerName))
	return nil
}
