package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/version"
	"github.com/jmylchreest/moshr/internal/workerd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the worker API on a unix socket",
	Long: `Serve the worker gRPC API until interrupted.

Examples:
  moshr-workerd serve --socket /tmp/moshr/workerd.sock --preview-dir /tmp/moshr/previews`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("socket", "", "unix socket path to listen on (required)")
	serveCmd.Flags().String("preview-dir", os.TempDir(), "directory rendered preview frames are written to")
	serveCmd.Flags().Duration("session-ttl", 2*time.Minute, "idle preview sessions older than this are dropped")
	serveCmd.Flags().Int("max-message-size", 4*1024*1024, "maximum gRPC message size in bytes")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "time allowed for in-flight calls on shutdown")
	_ = serveCmd.MarkFlagRequired("socket")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	info := version.GetInfo()
	logger.Info("moshr-workerd starting",
		slog.String("version", info.Version),
		slog.String("commit", info.Commit),
		slog.String("go", info.GoVersion),
		slog.String("platform", info.Platform),
	)

	socket, _ := cmd.Flags().GetString("socket")
	previewDir, _ := cmd.Flags().GetString("preview-dir")
	sessionTTL, _ := cmd.Flags().GetDuration("session-ttl")
	maxMsg, _ := cmd.Flags().GetInt("max-message-size")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	if err := os.MkdirAll(previewDir, 0o750); err != nil {
		return err
	}

	resolver := ffmpeg.NewResolver(config.FFmpegConfig{
		BinaryPath: workerViper.GetString("ffmpeg.binary_path"),
		ProbePath:  workerViper.GetString("ffmpeg.probe_path"),
	})
	runner := ffmpeg.NewRunner(resolver, logger)

	server := workerd.NewServer(workerd.Config{
		SocketPath:      socket,
		AuthToken:       workerViper.GetString("worker.auth_token"),
		PreviewDir:      previewDir,
		SessionTTL:      sessionTTL,
		MaxMessageSize:  maxMsg,
		ShutdownTimeout: shutdownTimeout,
	}, runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("moshr-workerd stopped")
	return nil
}
