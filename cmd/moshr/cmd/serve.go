package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internalhttp "github.com/jmylchreest/moshr/internal/http"
	"github.com/jmylchreest/moshr/internal/http/handlers"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/preview"
	"github.com/jmylchreest/moshr/internal/repository"
	"github.com/jmylchreest/moshr/internal/scheduler"
	"github.com/jmylchreest/moshr/internal/storage"
	"github.com/jmylchreest/moshr/internal/version"
	"github.com/jmylchreest/moshr/pkg/format"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// tempArtifactMinAge keeps the sweeper away from a job that is still writing.
const tempArtifactMinAge = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the moshr API server",
	Long: `Start the HTTP API used by the moshr front end.

The server exposes export, job, effect and preview endpoints under /api/v1,
a server-sent event stream at /api/v1/events and a health check at /health.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
	serveCmd.Flags().Bool("no-worker", false, "do not start the native worker")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	logger.Info("starting moshr",
		slog.String("version", version.Short()),
		slog.String("address", cfg.Server.Address()),
		slog.String("database", cfg.Database.Driver))

	a := newApp(ctx, cfg, true)
	defer a.close()

	var renderer handlers.PreviewRenderer
	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		if client, err := a.startWorker(ctx); err == nil {
			uploader := native.NewUploader(client, int(cfg.Worker.ChunkSize.Bytes()), logger)
			renderer = preview.NewSlots(uploader, logger)
		}
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())

	health := handlers.NewHealthHandler(version.Short(), a.coordinator).WithWorker(a.workerProbe)
	var history handlers.History
	if a.history != nil {
		history = a.history
		health.WithDB(a.db.DB)
	}
	server.Mount(
		health,
		handlers.NewEffectsHandler(),
		handlers.NewExportHandler(a.exports),
		handlers.NewJobHandler(a.coordinator, history),
		handlers.NewPreviewHandler(renderer),
	)
	server.MountStreams(handlers.NewEventsHandler(a.coordinator))

	if cfg.Scheduler.Enabled {
		sched, err := a.maintenance()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
		// Clear previews left behind by an unclean exit.
		if cfg.Scheduler.PreviewSweep != "" {
			if err := sched.RunNow(ctx, "preview-sweep"); err != nil {
				logger.Warn("startup sweep failed", slog.String("error", err.Error()))
			}
		}
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("moshr stopped")
	return nil
}

func (a *app) workerProbe(ctx context.Context) (*rpc.HealthResponse, bool, error) {
	client, ok := a.spawner.Client()
	if !ok {
		return nil, false, nil
	}
	resp, err := client.Health(ctx)
	return resp, true, err
}

// maintenance registers the preview sweep and, with history enabled, the
// temp artifact sweep and history prune.
func (a *app) maintenance() (*scheduler.Scheduler, error) {
	cfg := a.cfg
	sched := scheduler.New().WithLogger(a.logger)

	previews, err := storage.NewSandbox(cfg.Storage.PreviewPath())
	if err != nil {
		return nil, fmt.Errorf("opening preview folder: %w", err)
	}
	sweeper := storage.NewSweeper(previews, cfg.Storage.PreviewRetention, a.logger)

	type maintenanceTask struct {
		name     string
		schedule string
		fn       scheduler.TaskFunc
	}
	tasks := []maintenanceTask{
		{"preview-sweep", cfg.Scheduler.PreviewSweep, func(ctx context.Context) error {
			_, err := sweeper.SweepPreviews(time.Now())
			if a.history == nil || a.coordinator.Running() {
				return err
			}
			records, _, listErr := a.history.List(ctx, repository.HistoryFilter{Limit: 100})
			if listErr != nil {
				return listErr
			}
			outputs := make([]string, 0, len(records))
			for _, r := range records {
				outputs = append(outputs, r.OutputPath)
			}
			sweeper.SweepTempArtifacts(outputs, time.Now(), tempArtifactMinAge)
			return err
		}},
	}
	if a.history != nil {
		tasks = append(tasks, maintenanceTask{"history-prune", cfg.Scheduler.HistoryPrune, func(ctx context.Context) error {
			_, err := a.history.Prune(ctx, time.Now())
			return err
		}})
	}

	for _, t := range tasks {
		if t.schedule == "" {
			continue
		}
		if err := sched.Add(t.name, t.schedule, t.fn); err != nil {
			return nil, err
		}
		a.logger.Info("scheduled maintenance task",
			slog.String("task", t.name),
			slog.String("schedule", t.schedule),
			slog.String("runs", format.CronDescription(t.schedule)))
	}
	return sched, nil
}
