package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit and build date of moshr. With --deps, also report the ffmpeg build in use.",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().Bool("json", false, "output version information as JSON")
	versionCmd.Flags().Bool("deps", false, "detect and report the ffmpeg binaries")
	rootCmd.AddCommand(versionCmd)
}

type versionReport struct {
	version.Info
	Snapshot bool               `json:"snapshot"`
	FFmpeg *ffmpeg.BinaryInfo `json:"ffmpeg,omitempty"`
	Error  string             `json:"ffmpeg_error,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	deps, _ := cmd.Flags().GetBool("deps")

	report := versionReport{Info: version.GetInfo(), Snapshot: version.IsSnapshot()}
	if deps {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		runner := ffmpeg.NewRunner(ffmpeg.NewResolver(cfg.FFmpeg), nil)
		info, err := ffmpeg.NewBinaryDetector(runner, 0).Detect(ctx)
		if err != nil {
			report.Error = err.Error()
		}
		report.FFmpeg = info
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println(version.String(version.ApplicationName))
	if report.Snapshot {
		fmt.Println("snapshot build")
	}
	if !deps {
		return nil
	}
	if report.FFmpeg == nil {
		fmt.Printf("ffmpeg: not found (%s)\n", report.Error)
		return nil
	}
	fmt.Printf("ffmpeg %s (%s, %s)\n", report.FFmpeg.Version, report.FFmpeg.FFmpegPath, report.FFmpeg.Source)
	if report.FFmpeg.FFprobePath != "" {
		fmt.Printf("ffprobe %s\n", report.FFmpeg.FFprobePath)
	}
	fmt.Printf("encoders: %d available\n", len(report.FFmpeg.Encoders))
	return nil
}
