// Package cmd implements the CLI commands for moshr.
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

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     version.ApplicationName,
	Short:   "Video glitch effects and datamoshing",
	Version: version.Short(),
	Long: `moshr renders glitch effects onto video clips.

It drives ffmpeg for decoding, filtering and encoding, and a native worker
(moshr-workerd) for bitstream datamoshing, pixel effects and live previews.
Run one export from the command line, or serve the local HTTP API that a
front end talks to.`,
	SilenceUsage: true,
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

	// These flags are not bound to viper. They override env and config only
	// when set explicitly, so CLI > env > config > default holds.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., $HOME/.moshr, /etc/moshr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.moshr")
		}
		viper.AddConfigPath("/etc/moshr")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) when explicitly provided
//  2. Environment variables (MOSHR_LOGGING_LEVEL, MOSHR_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initLogging() error {
	cfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	cfg.Level = strings.ToLower(cfg.Level)
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Level == "warning" {
		cfg.Level = "warn"
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	logger := observability.NewLoggerWithWriter(cfg, os.Stderr)
	slog.SetDefault(observability.WithApp(logger, version.ApplicationName))
	return nil
}

// loadConfig decodes and validates the merged configuration, applying the
// logging flags the same way initLogging does.
func loadConfig() (*config.Config, error) {
	if rootCmd.PersistentFlags().Changed("log-level") {
		lvl, _ := rootCmd.PersistentFlags().GetString("log-level")
		lvl = strings.ToLower(lvl)
		if lvl == "warning" {
			lvl = "warn"
		}
		viper.Set("logging.level", lvl)
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		f, _ := rootCmd.PersistentFlags().GetString("log-format")
		viper.Set("logging.format", strings.ToLower(f))
	}
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
