package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/effects"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/validation"
	"github.com/jmylchreest/moshr/pkg/format"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render one clip with an effect",
	Long: `Render one clip with an effect and wait for it to finish.

Progress is printed to stderr. Ctrl-C cancels the job, removes partial
output and exits once cleanup completes.

Examples:
  moshr export -i in.mp4 -o out.mp4 -e datamosh --intensity 0.8
  moshr export -i in.mp4 -o out.webm -e rgbshift -p offset=12 --encoder libvpx-vp9 --audio-codec libopus
  moshr export -i in.mov -o small.mp4 -e datamosh --size-cap 8MB --two-pass`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addExportFlags(exportCmd.Flags())
	_ = exportCmd.MarkFlagRequired("input")
	_ = exportCmd.MarkFlagRequired("output")
}

func addExportFlags(f *pflag.FlagSet) {
	f.StringP("input", "i", "", "input clip (required)")
	f.StringP("output", "o", "", "output file; the extension selects the container (required)")
	f.StringP("effect", "e", effects.Datamosh, "effect name, see 'moshr effects'")
	f.StringToStringP("param", "p", nil, "effect parameter as name=value (repeatable)")

	f.Float64("trim-start", 0, "start of the trimmed range in seconds")
	f.Float64("trim-end", 0, "end of the trimmed range in seconds (0 = clip end)")

	f.String("encoder", "libx264", "video encoder")
	f.Int("crf", -1, "constant rate factor for software encoders (-1 = encoder default)")
	f.Int("cq", -1, "constant quality for hardware encoders (-1 = encoder default)")
	f.String("preset", "", "encoder preset")
	f.String("bitrate", "", "target video bitrate, e.g. 4M")
	f.String("max-bitrate", "", "maximum video bitrate")
	f.String("size-cap", "", "output size cap, e.g. 8MB; enables a bitrate derived from duration")
	f.Bool("two-pass", false, "encode the final datamosh output in two passes")
	f.String("audio-codec", "", "audio codec (default picks one for the container; 'copy' keeps the source)")
	f.String("audio-bitrate", "", "audio bitrate, e.g. 160k")

	f.Float64("scene-threshold", -1, "datamosh scene cut sensitivity in [0,1] (-1 = config default)")
	f.Int("gop", 0, "datamosh keyframe interval (0 = config default)")
	f.Float64("mosh-length", -1, "seconds moshed after each cut (-1 = config default, 0 = to clip end)")
	f.Float64("intensity", -1, "probability each in-window keyframe is dropped (-1 = config default)")
	f.Int64("seed", 0, "seed for frame-drop and noise randomness")

	f.Bool("no-history", false, "do not record the job in the history database")
	f.BoolP("verbose", "v", false, "echo engine log lines")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := exportRequestFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	noHistory, _ := cmd.Flags().GetBool("no-history")
	verbose, _ := cmd.Flags().GetBool("verbose")

	a := newApp(ctx, cfg, !noHistory)
	defer a.close()

	if e, err := effects.Lookup(req.Effect); err == nil && e.Backend != effects.BackendEngine {
		_, _ = a.startWorker(ctx)
	}

	sub := a.coordinator.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(os.Stderr, sub.Events, verbose)
	}()
	if cfg.Jobs.TaskbarProgress {
		detach := jobs.NewTerminalIndicator(os.Stderr).Attach(a.coordinator)
		defer detach()
	}

	if _, err := a.exports.Start(ctx, req); err != nil {
		a.coordinator.Unsubscribe(sub.ID)
		<-printed
		printValidation(os.Stderr, err)
		return err
	}

	done := make(chan models.Job, 1)
	go func() {
		job, _ := a.coordinator.Wait(context.Background())
		done <- job
	}()

	var job models.Job
	select {
	case job = <-done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\ncancelling...")
		if err := a.coordinator.Shutdown(context.Background(), cfg.Jobs.ShutdownTimeout); err != nil {
			job, _ = a.coordinator.Current()
		} else {
			job = <-done
		}
	}
	a.coordinator.Unsubscribe(sub.ID)
	<-printed
	fmt.Fprintln(os.Stderr)

	switch job.Status {
	case models.JobStatusSuccess:
		size := ""
		if info, err := os.Stat(job.OutputPath); err == nil {
			size = " (" + format.Bytes(info.Size()) + ")"
		}
		fmt.Printf("wrote %s%s\n", job.OutputPath, size)
		return nil
	case models.JobStatusCanceled:
		return errors.New("export canceled")
	case models.JobStatusRunning:
		return fmt.Errorf("export did not stop within %s", cfg.Jobs.ShutdownTimeout)
	default:
		return fmt.Errorf("export failed: %s", job.Error)
	}
}

func exportRequestFromFlags(f *pflag.FlagSet) (models.ExportRequest, error) {
	str := func(name string) string { v, _ := f.GetString(name); return v }
	num := func(name string) float64 { v, _ := f.GetFloat64(name); return v }
	integer := func(name string) int { v, _ := f.GetInt(name); return v }

	req := models.ExportRequest{
		InputPath:  str("input"),
		OutputPath: str("output"),
		Effect:     str("effect"),
		Encode: models.EncodeSettings{
			Encoder:       str("encoder"),
			Preset:        str("preset"),
			TargetBitrate: str("bitrate"),
			MaxBitrate:    str("max-bitrate"),
			AudioCodec:    str("audio-codec"),
			AudioBitrate:  str("audio-bitrate"),
		},
	}

	raw, _ := f.GetStringToString("param")
	if len(raw) > 0 {
		req.Params = make(map[string]float64, len(raw))
		for k, v := range raw {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return req, fmt.Errorf("param %s: %q is not a number", k, v)
			}
			req.Params[k] = n
		}
	}

	if start, end := num("trim-start"), num("trim-end"); start > 0 || end > 0 {
		req.Trim = &models.TrimWindow{Start: start, End: end}
	}
	if v := integer("crf"); v >= 0 {
		req.Encode.CRF = &v
	}
	if v := integer("cq"); v >= 0 {
		req.Encode.CQ = &v
	}
	if s := str("size-cap"); s != "" {
		size, err := config.ParseByteSize(s)
		if err != nil {
			return req, fmt.Errorf("size-cap: %w", err)
		}
		req.Encode.SizeCapBytes = size.Bytes()
	}
	if two, _ := f.GetBool("two-pass"); two {
		req.Encode.Pass = models.PassTwo
	}

	if req.Effect == effects.Datamosh {
		dm := &models.DatamoshParams{GOPSize: integer("gop")}
		dm.Seed, _ = f.GetInt64("seed")
		if v := num("scene-threshold"); v >= 0 {
			dm.SceneThreshold = &v
		}
		if v := num("mosh-length"); v >= 0 {
			dm.MoshLength = &v
		}
		if v := num("intensity"); v >= 0 {
			dm.Intensity = &v
		}
		req.Datamosh = dm
	}
	return req, nil
}

// printProgress renders a single status line per progress event until
// events is closed.
func printProgress(w io.Writer, events <-chan jobs.Event, verbose bool) {
	for ev := range events {
		switch ev.Type {
		case jobs.EventLog:
			if verbose {
				fmt.Fprintf(w, "\r\x1b[K%s\n", ev.Line)
			}
		case jobs.EventProgress:
			p := ev.Job.Progress
			pos := "--"
			if p.OutTimeSeconds != nil {
				pos = format.Timecode(*p.OutTimeSeconds)
			}
			fmt.Fprintf(w, "\r\x1b[K%-16s %7s  %s  speed %s  eta %s",
				p.Stage, format.Percent(p.Percent), pos, format.Speed(p.Speed), format.ETA(p.ETASeconds))
		case jobs.EventStatus:
			if ev.Job.Status.IsTerminal() {
				fmt.Fprintf(w, "\r\x1b[K%s %s", ev.Job.Effect, ev.Job.Status)
			}
		}
	}
}

func printValidation(w io.Writer, err error) {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return
	}
	for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
		fmt.Fprintf(w, "  %s: %s\n", field, verr.Fields[field])
	}
}
