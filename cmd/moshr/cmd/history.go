package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/repository"
	"github.com/jmylchreest/moshr/internal/service"
	"github.com/jmylchreest/moshr/pkg/duration"
	"github.com/jmylchreest/moshr/pkg/format"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished jobs",
	Long: `List finished jobs, newest first.

Examples:
  moshr history --since 7d
  moshr history --status error --effect datamosh
  moshr history log 01JB2Z4N3V8K0W6Q5T1R7YH9XE`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyLogCmd = &cobra.Command{
	Use:   "log <job-id>",
	Short: "Print the archived engine log of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryLog,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyLogCmd)

	f := historyCmd.Flags()
	f.String("status", "", "filter by status: success, error or canceled")
	f.String("effect", "", "filter by effect name")
	f.String("since", "", "only jobs finished within this window, e.g. 24h or 7d")
	f.Int("limit", 20, "maximum number of jobs to list")
}

func openHistoryOnly(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: slog.Default()}
	if err := a.openHistory(cmd.Context()); err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return a, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	filter := repository.HistoryFilter{}
	status, _ := f.GetString("status")
	filter.Status = models.JobStatus(status)
	filter.Effect, _ = f.GetString("effect")
	filter.Limit, _ = f.GetInt("limit")
	if since, _ := f.GetString("since"); since != "" {
		d, err := duration.Parse(since)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	a, err := openHistoryOnly(cmd)
	if err != nil {
		return err
	}
	defer a.db.Close()

	recs, total, err := a.history.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEFFECT\tSTATUS\tTOOK\tFINISHED\tOUTPUT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Effect, r.Status,
			duration.Format(time.Duration(r.DurationMs)*time.Millisecond),
			format.RelativeTime(r.FinishedAt), r.OutputPath)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if int64(len(recs)) < total {
		fmt.Printf("showing %d of %s jobs\n", len(recs), format.Number(total))
	}
	return nil
}

func runHistoryLog(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return err
	}
	a, err := openHistoryOnly(cmd)
	if err != nil {
		return err
	}
	defer a.db.Close()

	lines, err := a.history.Log(cmd.Context(), id)
	if errors.Is(err, service.ErrHistoryNotFound) {
		return fmt.Errorf("no finished job %s", id)
	}
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(lines, "\n"))
	return nil
}
