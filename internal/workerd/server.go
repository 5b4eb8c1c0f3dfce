// Package workerd implements the moshr-workerd native worker: a gRPC
// service on a unix socket that moshes H.264 bitstreams, renders pixel
// effects and processes preview frames.
package workerd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/observability"
	"github.com/jmylchreest/moshr/internal/version"
	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// Config configures the worker server.
type Config struct {
	SocketPath      string
	AuthToken       string
	PreviewDir      string
	SessionTTL      time.Duration
	MaxMessageSize  int
	ShutdownTimeout time.Duration
}

// Server implements rpc.WorkerServer.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	runner   *ffmpeg.Runner
	hub      *Hub
	sessions *SessionStore
	stats    *StatsCollector
	active   atomic.Int32

	mu   sync.Mutex
	grpc *grpc.Server
}

var _ rpc.WorkerServer = (*Server)(nil)

// NewServer creates a worker server. runner is used by Render.
func NewServer(cfg Config, runner *ffmpeg.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "workerd"),
		runner:   runner,
		hub:      NewHub(),
		sessions: NewSessionStore(cfg.SessionTTL),
		stats:    NewStatsCollector(),
	}
}

// Hub returns the server's event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Sessions returns the preview session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

func (s *Server) newGRPCServer() *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(rpc.TokenUnaryInterceptor(s.cfg.AuthToken), s.unaryInterceptor),
		grpc.ChainStreamInterceptor(rpc.TokenStreamInterceptor(s.cfg.AuthToken), s.streamInterceptor),
	}
	if s.cfg.MaxMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxMessageSize), grpc.MaxSendMsgSize(s.cfg.MaxMessageSize))
	}
	srv := grpc.NewServer(opts...)
	rpc.RegisterWorkerServer(srv, s)
	return srv
}

// ListenAndServe listens on the configured unix socket and serves until ctx
// ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("socket path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o750); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	lis, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.SocketPath, err)
	}
	defer func() { _ = os.Remove(s.cfg.SocketPath) }()
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx ends, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.grpc != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.grpc = s.newGRPCServer()
	srv := s.grpc
	s.mu.Unlock()

	go s.reapLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	s.logger.Info("worker serving",
		slog.String("addr", lis.Addr().String()),
		slog.String("version", version.Version),
		slog.Bool("auth", s.cfg.AuthToken != ""))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("graceful stop timed out, forcing")
		srv.Stop()
	}
	s.logger.Info("worker stopped")
	return nil
}

func (s *Server) reapLoop(ctx context.Context) {
	interval := max(s.cfg.SessionTTL/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.sessions.Reap() {
				s.logger.Warn("preview session expired", slog.String("session_id", id))
			}
		}
	}
}

// Health implements rpc.WorkerServer.
func (s *Server) Health(ctx context.Context, _ *rpc.Empty) (*rpc.HealthResponse, error) {
	st := s.stats.Collect(ctx)
	return &rpc.HealthResponse{
		Version:        version.Short(),
		PID:            os.Getpid(),
		UptimeSeconds:  s.stats.Uptime().Seconds(),
		CPUPercent:     st.CPUPercent,
		MemoryPercent:  st.MemoryPercent,
		Load1:          st.Load1,
		RSSBytes:       st.RSSBytes,
		ActiveJobs:     int(s.active.Load()),
		ActiveSessions: s.sessions.Len(),
	}, nil
}

// Events implements rpc.WorkerServer.
func (s *Server) Events(req *rpc.EventsRequest, stream grpc.ServerStreamingServer[rpc.Event]) error {
	events, unsubscribe := s.hub.Subscribe(req.Channels)
	defer unsubscribe()

	if err := stream.Send(&rpc.Event{Channel: rpc.ChannelHello, Time: time.Now()}); err != nil {
		return err
	}
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

// PreviewStart implements rpc.WorkerServer.
func (s *Server) PreviewStart(_ context.Context, req *rpc.PreviewStartRequest) (*rpc.Empty, error) {
	if err := s.sessions.Start(req.ID, req.Width, req.Height); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

// PreviewAppend implements rpc.WorkerServer.
func (s *Server) PreviewAppend(_ context.Context, req *rpc.PreviewAppendRequest) (*rpc.PreviewAppendResponse, error) {
	n, err := s.sessions.Append(req.ID, req.Chunk)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.PreviewAppendResponse{Received: n}, nil
}

// PreviewFinish implements rpc.WorkerServer.
func (s *Server) PreviewFinish(_ context.Context, req *rpc.PreviewFinishRequest) (*rpc.PreviewFinishResponse, error) {
	sess, err := s.sessions.Take(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	img, err := pixfx.FromPix(sess.Width, sess.Height, sess.Pix())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Effect != "" {
		if err := pixfx.Apply(req.Effect, img, req.Params, 0); err != nil {
			return nil, toStatus(err)
		}
	}

	if s.cfg.PreviewDir == "" {
		return nil, status.Error(codes.FailedPrecondition, "preview directory not configured")
	}
	name := filepath.Base(req.ID)
	if name == "." || name == string(filepath.Separator) {
		return nil, status.Error(codes.InvalidArgument, "invalid preview id")
	}
	if err := os.MkdirAll(s.cfg.PreviewDir, 0o750); err != nil {
		return nil, status.Errorf(codes.Internal, "creating preview dir: %v", err)
	}
	out := filepath.Join(s.cfg.PreviewDir, name+".png")
	tmp, err := os.CreateTemp(s.cfg.PreviewDir, ".moshr-preview-*")
	if err != nil {
		return nil, status.Errorf(codes.Internal, "creating preview file: %v", err)
	}
	encErr := png.Encode(tmp, img)
	closeErr := tmp.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, status.Errorf(codes.Internal, "writing preview: %v", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, status.Errorf(codes.Internal, "writing preview: %v", err)
	}
	return &rpc.PreviewFinishResponse{OutputPath: out}, nil
}

// PreviewDiscard implements rpc.WorkerServer. Unknown ids are not an error.
func (s *Server) PreviewDiscard(_ context.Context, req *rpc.PreviewDiscardRequest) (*rpc.Empty, error) {
	if s.sessions.Discard(req.ID) {
		s.logger.Debug("preview session discarded", slog.String("session_id", req.ID))
	}
	return &rpc.Empty{}, nil
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	level := slog.LevelDebug
	switch info.FullMethod {
	case rpc.MethodHealth, rpc.MethodPreviewAppend:
		level = observability.LevelTrace
	}
	if err != nil {
		s.logger.Log(ctx, level, "rpc failed",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
	} else {
		s.logger.Log(ctx, level, "rpc completed",
			slog.String("method", info.FullMethod),
			slog.Duration("duration", time.Since(start)))
	}
	return resp, err
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	attrs := []any{slog.String("method", info.FullMethod), slog.Duration("duration", time.Since(start))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Debug("rpc stream ended", attrs...)
	return err
}

// toStatus maps worker errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, os.ErrNotExist):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrSessionExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrSessionOverflow), errors.Is(err, ErrSessionShort),
		errors.Is(err, ErrInvalidFrame), errors.Is(err, pixfx.ErrUnknownEffect),
		errors.Is(err, errInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var errInvalidRequest = errors.New("invalid request")
