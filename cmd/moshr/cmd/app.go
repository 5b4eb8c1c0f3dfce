package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/database"
	"github.com/jmylchreest/moshr/internal/export"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/repository"
	"github.com/jmylchreest/moshr/internal/service"
	"github.com/jmylchreest/moshr/internal/storage"
)

// app holds the components shared by export, preview and serve.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	runner      *ffmpeg.Runner
	prober      *ffmpeg.Prober
	coordinator *jobs.Coordinator
	spawner     *native.Spawner
	exports     *export.Service

	db      *database.DB
	history *service.HistoryService
}

// newApp wires the engine, coordinator, worker spawner and export service.
// History is only opened when withHistory is set; a failure to open it is
// logged and the app runs without one.
func newApp(ctx context.Context, cfg *config.Config, withHistory bool) *app {
	logger := slog.Default()

	resolver := ffmpeg.NewResolver(cfg.FFmpeg)
	runner := ffmpeg.NewRunner(resolver, logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		runner: runner,
		prober: ffmpeg.NewProber(runner),
		coordinator: jobs.NewCoordinator(jobs.Options{
			LogLines:       cfg.Jobs.LogLines,
			ErrorTailLines: cfg.Jobs.ErrorTailLines,
		}, logger),
		spawner: native.NewSpawner(native.SpawnerConfig{
			BinaryPath:      cfg.Worker.BinaryPath,
			SocketPath:      cfg.Worker.Socket(cfg.Storage.BaseDir),
			AuthToken:       cfg.Worker.AuthToken,
			LogLevel:        cfg.Logging.Level,
			PreviewDir:      cfg.Storage.PreviewPath(),
			SessionTTL:      cfg.Worker.SessionTTL,
			StartupTimeout:  cfg.Worker.StartupTimeout,
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
			MaxMessageSize:  int(cfg.Worker.MaxMessageSize.Bytes()),
			Logger:          logger,
		}),
	}
	a.exports = export.NewService(a.coordinator, runner, a.prober, export.SpawnerSource(a.spawner), cfg.Datamosh, logger)

	if withHistory {
		if err := a.openHistory(ctx); err != nil {
			logger.Warn("job history disabled", slog.String("error", err.Error()))
		}
	}
	return a
}

func (a *app) openHistory(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	logs, err := storage.NewLogArchive(a.cfg.Storage.LogPath())
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("opening log archive: %w", err)
	}
	a.db = db
	a.history = service.NewHistoryService(repository.NewJobHistoryRepository(db.DB), logs).
		WithLogger(a.logger).
		WithRetention(a.cfg.Jobs.HistoryRetention)
	a.coordinator.WithRecorder(a.history)
	return nil
}

// startWorker launches the native worker. Failures leave worker-backed
// effects and previews unavailable.
func (a *app) startWorker(ctx context.Context) (*native.Client, error) {
	client, err := a.spawner.Start(ctx)
	if err != nil {
		a.logger.Warn("native worker unavailable", slog.String("error", err.Error()))
		return nil, err
	}
	return client, nil
}

// close cancels any running job, then stops the worker and database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Jobs.ShutdownTimeout+time.Second)
	defer cancel()
	if err := a.coordinator.Shutdown(ctx, a.cfg.Jobs.ShutdownTimeout); err != nil {
		a.logger.Warn("job shutdown incomplete", slog.String("error", err.Error()))
	}
	a.spawner.Stop()
	if a.db != nil {
		_ = a.db.Close()
	}
}
