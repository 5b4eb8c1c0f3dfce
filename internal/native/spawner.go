package native

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/moshr/internal/observability"
	"github.com/jmylchreest/moshr/internal/util"
)

// BinaryName is the worker executable name.
const BinaryName = "moshr-workerd"

// BinaryEnvVar overrides worker binary discovery.
const BinaryEnvVar = "MOSHR_WORKERD_BINARY"

// authTokenEnv hands the token to the child without exposing it in argv.
const authTokenEnv = "MOSHR_WORKER_AUTH_TOKEN"

// SpawnerConfig configures the worker subprocess.
type SpawnerConfig struct {
	// BinaryPath is an explicit worker path. Empty searches the usual tiers.
	BinaryPath string
	SocketPath string
	AuthToken  string
	LogLevel   string
	// PreviewDir is where the worker writes rendered preview frames.
	PreviewDir string
	SessionTTL time.Duration

	// StartupTimeout bounds the wait for the first healthy response.
	// Defaults to 10 seconds.
	StartupTimeout time.Duration

	// ShutdownTimeout bounds the graceful stop before the process is killed.
	// Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	MaxMessageSize int
	Logger         *slog.Logger
}

// Spawner runs a single moshr-workerd subprocess and hands out a client
// connected to it.
type Spawner struct {
	config SpawnerConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	client  *Client
	exited  chan struct{}
	started time.Time
}

// NewSpawner creates a spawner with defaults applied.
func NewSpawner(config SpawnerConfig) *Spawner {
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Spawner{
		config: config,
		logger: observability.WithComponent(config.Logger, "workerd-spawner"),
	}
}

// FindBinary resolves the worker executable.
func (s *Spawner) FindBinary() (string, error) {
	f := util.NewFinder()
	f.EnvVar = BinaryEnvVar
	f.Override = s.config.BinaryPath
	res, err := f.Find(BinaryName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorkerNotFound, err)
	}
	return res.Path, nil
}

// Start launches the worker and blocks until it answers a health check.
// Calling Start on a running spawner returns the existing client.
func (s *Spawner) Start(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	binaryPath, err := s.FindBinary()
	if err != nil {
		return nil, err
	}
	if s.config.SocketPath == "" {
		return nil, errors.New("worker socket path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.config.SocketPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	args := []string{
		"serve",
		"--socket", s.config.SocketPath,
		"--log-level", s.config.LogLevel,
		"--log-format", "json",
	}
	if s.config.PreviewDir != "" {
		args = append(args, "--preview-dir", s.config.PreviewDir)
	}
	if s.config.SessionTTL > 0 {
		args = append(args, "--session-ttl", s.config.SessionTTL.String())
	}
	if s.config.MaxMessageSize > 0 {
		args = append(args, "--max-message-size", strconv.Itoa(s.config.MaxMessageSize))
	}
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = os.Environ()
	if s.config.AuthToken != "" {
		cmd.Env = append(cmd.Env, authTokenEnv+"="+s.config.AuthToken)
	}
	logs := &logWriter{logger: s.logger}
	cmd.Stdout = logs
	cmd.Stderr = logs

	s.logger.Debug("spawning worker",
		slog.String("binary", binaryPath),
		slog.String("socket", s.config.SocketPath))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	client, err := Dial(s.config.SocketPath, ClientOptions{
		AuthToken:      s.config.AuthToken,
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.config.Logger,
	})
	if err != nil {
		s.kill(cmd, exited)
		return nil, err
	}

	if err := s.waitReady(ctx, client, exited); err != nil {
		_ = client.Close()
		s.kill(cmd, exited)
		return nil, err
	}

	s.cmd = cmd
	s.client = client
	s.exited = exited
	s.started = time.Now()

	s.logger.Info("worker ready",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("socket", s.config.SocketPath))
	return client, nil
}

// waitReady polls Health every 100ms until it succeeds.
func (s *Spawner) waitReady(ctx context.Context, client *Client, exited <-chan struct{}) error {
	startupCtx, cancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-startupCtx.Done():
			return fmt.Errorf("%w after %s", ErrStartupTimeout, s.config.StartupTimeout)
		case <-exited:
			return errors.New("worker exited during startup")
		case <-ticker.C:
			probeCtx, probeCancel := context.WithTimeout(startupCtx, time.Second)
			_, err := client.Health(probeCtx)
			probeCancel()
			if err == nil {
				return nil
			}
		}
	}
}

// Client returns the live client, if any.
func (s *Spawner) Client() (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.client != nil
}

// Stop closes the client and terminates the worker, killing it when it
// outlives ShutdownTimeout.
func (s *Spawner) Stop() {
	s.mu.Lock()
	cmd, client, exited, started := s.cmd, s.client, s.exited, s.started
	s.cmd, s.client, s.exited = nil, nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return
	}
	_ = client.Close()
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-exited:
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("worker did not exit gracefully, killing",
			slog.Int("pid", cmd.Process.Pid))
		s.kill(cmd, exited)
	}

	s.logger.Info("worker stopped", slog.Duration("runtime", time.Since(started)))
}

func (s *Spawner) kill(cmd *exec.Cmd, exited <-chan struct{}) {
	_ = cmd.Process.Kill()
	<-exited
}

// logWriter re-emits the worker's JSON log lines at their original level.
type logWriter struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := w.buf[:idx]
		w.buf = w.buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		w.processLine(line)
	}
	return len(p), nil
}

func (w *logWriter) processLine(line []byte) {
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		w.logger.Info("worker output",
			slog.String("app", BinaryName),
			slog.String("line", string(line)))
		return
	}

	level, _ := entry["level"].(string)
	msg, _ := entry["msg"].(string)

	attrs := make([]any, 0, len(entry)+1)
	attrs = append(attrs, slog.String("app", BinaryName))
	for k, v := range entry {
		if k == "time" || k == "level" || k == "msg" {
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}

	switch strings.ToUpper(level) {
	case "TRACE":
		w.logger.Log(context.Background(), observability.LevelTrace, msg, attrs...)
	case "DEBUG":
		w.logger.Debug(msg, attrs...)
	case "WARN", "WARNING":
		w.logger.Warn(msg, attrs...)
	case "ERROR":
		w.logger.Error(msg, attrs...)
	default:
		w.logger.Info(msg, attrs...)
	}
}
