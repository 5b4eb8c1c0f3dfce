package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the configuration in YAML format.

By default this is the effective configuration after the config file and
environment are applied. Use --defaults to print only built-in values,
which makes a starting template:

  moshr config dump --defaults > config.yaml

Environment variables use the MOSHR_ prefix and underscores for nesting.
Example: server.port -> MOSHR_SERVER_PORT`,
	Args: cobra.NoArgs,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configDumpCmd.Flags().Bool("defaults", false, "print built-in defaults only")
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if defaults, _ := cmd.Flags().GetBool("defaults"); defaults {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.Decode(v)
	} else {
		cfg, err = loadConfig()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# moshr configuration")
	fmt.Println("# Durations accept 30s, 5m, 1h, 30d, 2w. Sizes accept 512KiB, 2MB.")
	fmt.Println("# Schedules are six-field cron expressions with a leading seconds field.")
	fmt.Println()
	fmt.Print(string(data))
	return nil
}

// toMap walks a config struct by yaml tag and renders durations in their
// short form.
func toMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	out := make(map[string]any, val.NumField())
	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("yaml")
		if key == "" {
			key = typ.Field(i).Tag.Get("mapstructure")
		}
		if key == "" || key == "-" {
			continue
		}

		switch f := field.Interface().(type) {
		case time.Duration:
			out[key] = duration.Format(f)
		case config.ByteSize:
			out[key] = f.String()
		default:
			if field.Kind() == reflect.Struct {
				out[key] = toMap(f)
			} else {
				out[key] = f
			}
		}
	}
	return out
}
