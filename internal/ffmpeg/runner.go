package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/jmylchreest/moshr/internal/observability"
	"github.com/jmylchreest/moshr/internal/util"
)

// SpawnError reports a process that could not be started.
type SpawnError struct {
	Program string
	Path    string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s (%s): %v", e.Program, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecResult is the outcome of a short-lived invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Path     string
	Source   util.Source
}

// CloseEvent is delivered exactly once when a spawned process ends.
// ExitCode is -1 when the process never started or was killed by a signal.
type CloseEvent struct {
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`
}

// Success reports a clean zero exit.
func (c CloseEvent) Success() bool {
	return c.ExitCode == 0 && c.Signal == ""
}

// Handlers receive a spawned process's output as it arrives. Stdout and
// stderr callbacks run on separate goroutines; each stream is delivered in
// order. OnClose runs after both streams are drained. Stdin, when set, is
// copied to the process's standard input.
type Handlers struct {
	Stdin    io.Reader
	OnStdout func(chunk []byte)
	OnStderr func(chunk []byte)
	OnError  func(err error)
	OnClose  func(ev CloseEvent)
}

// Runner launches resolved programs.
type Runner struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewRunner creates a runner using resolver for binary lookup.
func NewRunner(resolver *Resolver, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		resolver: resolver,
		logger:   observability.WithComponent(logger, "runner"),
	}
}

// Resolver returns the runner's resolver.
func (r *Runner) Resolver() *Resolver {
	return r.resolver
}

// Execute runs program to completion and captures its output. A non-zero
// exit is reported through ExitCode, not as an error.
func (r *Runner) Execute(ctx context.Context, program string, args ...string) (*ExecResult, error) {
	res, err := r.resolver.Resolve(program)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, res.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing", slog.String("program", program), slog.String("path", res.Path),
		slog.String("source", string(res.Source)), slog.Any("args", args))

	runErr := cmd.Run()
	out := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Path:   res.Path,
		Source: res.Source,
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &SpawnError{Program: program, Path: res.Path, Err: runErr}
		}
		out.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, nil
}

// Spawn starts program and streams its output to h. It never returns nil:
// if resolution or start fails, OnError and then OnClose are delivered
// asynchronously so callers always reach a terminal state.
func (r *Runner) Spawn(ctx context.Context, program string, args []string, h Handlers) *Process {
	p := &Process{Program: program, done: make(chan struct{})}

	res, err := r.resolver.Resolve(program)
	if err != nil {
		go p.fail(h, err)
		return p
	}
	p.Resolution = res

	cmd := exec.CommandContext(ctx, res.Path, args...)
	cmd.Stdin = h.Stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		go p.fail(h, &SpawnError{Program: program, Path: res.Path, Err: err})
		return p
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		go p.fail(h, &SpawnError{Program: program, Path: res.Path, Err: err})
		return p
	}
	if err := cmd.Start(); err != nil {
		go p.fail(h, &SpawnError{Program: program, Path: res.Path, Err: err})
		return p
	}
	p.cmd = cmd

	r.logger.Debug("spawned", slog.String("program", program), slog.Int("pid", cmd.Process.Pid),
		slog.String("source", string(res.Source)), slog.Any("args", args))

	go p.supervise(stdout, stderr, h)
	return p
}

// Process is a handle on a spawned program.
type Process struct {
	Program    string
	Resolution util.Resolution

	cmd        *exec.Cmd
	done       chan struct{}
	closeEv    CloseEvent
	cancelOnce sync.Once
}

// Cancel kills the process. Safe to call repeatedly and after exit.
func (p *Process) Cancel() {
	select {
	case <-p.done:
		return
	default:
	}
	p.cancelOnce.Do(func() {
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// Done is closed after OnClose has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process has closed and returns its close event.
func (p *Process) Wait() CloseEvent {
	<-p.done
	return p.closeEv
}

// Pid returns the OS process id, or 0 if the process never started.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) fail(h Handlers, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
	p.finish(h, CloseEvent{ExitCode: -1})
}

func (p *Process) finish(h Handlers, ev CloseEvent) {
	p.closeEv = ev
	if h.OnClose != nil {
		h.OnClose(ev)
	}
	close(p.done)
}

func (p *Process) supervise(stdout, stderr io.Reader, h Handlers) {
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(stdout, h.OnStdout, &wg)
	go pump(stderr, h.OnStderr, &wg)
	wg.Wait()

	err := p.cmd.Wait()
	ev := CloseEvent{ExitCode: p.cmd.ProcessState.ExitCode()}
	if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		ev.Signal = ws.Signal().String()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && h.OnError != nil {
		h.OnError(err)
	}
	p.finish(h, ev)
}

func pump(r io.Reader, fn func([]byte), wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && fn != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			fn(chunk)
		}
		if err != nil {
			return
		}
	}
}
