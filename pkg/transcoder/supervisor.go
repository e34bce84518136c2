package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// ErrSpawn is returned when the transcoder binary is missing or could not be
// started. It is never retried.
var ErrSpawn = errors.New("transcoder spawn failed")

var commandContext = exec.CommandContext

// ExitKind classifies how a transcoder process ended.
type ExitKind int

const (
	// ExitNatural is a zero exit code that was not caused by Stop.
	ExitNatural ExitKind = iota
	// ExitAbnormal is a non-zero exit that was not caused by Stop.
	ExitAbnormal
	// ExitStopped is any exit after Stop was called on the handle.
	ExitStopped
)

func (k ExitKind) String() string {
	switch k {
	case ExitNatural:
		return "natural"
	case ExitAbnormal:
		return "abnormal"
	case ExitStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type ExitStatus struct {
	Kind ExitKind
	Code int
	Err  error
}

// Hooks receive what a running transcoder produces. Every callback carries
// the generation the handle was started with. All of them are optional and
// are called from supervisor goroutines.
type Hooks struct {
	OnLine      func(gen uint64, line string)
	OnInputDone func(gen uint64, err error)
	OnExit      func(gen uint64, status ExitStatus)
}

// Request describes one transcoder segment.
type Request struct {
	Generation uint64
	Source     Source
	Seek       time.Duration
	Port       int
}

// Handle is one running transcoder process. It is owned by whoever started it.
type Handle struct {
	Generation uint64
	Seek       time.Duration

	cmd     *exec.Cmd
	stopped atomic.Bool
	done    chan struct{}
	status  ExitStatus
}

// Done is closed once the process has exited and its exit was classified.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status is only meaningful after Done is closed.
func (h *Handle) Status() ExitStatus {
	<-h.done
	return h.status
}

func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stopped reports whether Stop was called on the handle.
func (h *Handle) Stopped() bool {
	return h.stopped.Load()
}

// Supervisor spawns and terminates transcoder processes.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger slog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "transcoder"),
	}
}

// Start spawns a transcoder for req. The process is not bound to ctx; ctx only
// guards the spawn itself and carries request values into the command.
func (s *Supervisor) Start(ctx context.Context, req Request, hooks Hooks) (*Handle, error) {
	if req.Source.IsZero() {
		return nil, fmt.Errorf("%w: no source", ErrSpawn)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := Args(s.cfg, req.Source, req.Seek, req.Port)
	cmd := commandContext(context.WithoutCancel(ctx), s.cfg.Binary, args...) //nolint:gosec

	stderr, err := cmd.StderrPipe()
	if err != nil {
		spawnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrSpawn, err)
	}

	var stdin io.WriteCloser
	if req.Source.Reader != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			_ = stderr.Close()
			spawnsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
		}
	}

	if err := cmd.Start(); err != nil {
		spawnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, s.cfg.Binary, err)
	}
	spawnsTotal.WithLabelValues("ok").Inc()

	h := &Handle{
		Generation: req.Generation,
		Seek:       req.Seek,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	logger := s.logger.With("generation", req.Generation, "pid", h.Pid())
	logger.Info("transcoder started", "source", req.Source.String(), "seek", req.Seek)

	if stdin != nil {
		go s.pumpInput(h, req.Source.Reader, stdin, hooks, logger)
	}

	linesDone := make(chan struct{})
	go func() {
		defer close(linesDone)
		s.readDiagnostics(h, stderr, hooks)
	}()

	go func() {
		// Wait must not be called before the stderr reader is finished.
		<-linesDone
		waitErr := cmd.Wait()
		h.status = classify(h, waitErr)
		close(h.done)

		exitsTotal.WithLabelValues(h.status.Kind.String()).Inc()
		switch h.status.Kind {
		case ExitAbnormal:
			logger.Warn("transcoder exited abnormally", "code", h.status.Code, "err", h.status.Err)
		default:
			logger.Info("transcoder exited", "kind", h.status.Kind, "code", h.status.Code)
		}
		if hooks.OnExit != nil {
			hooks.OnExit(h.Generation, h.status)
		}
	}()

	return h, nil
}

// Stop marks h as deliberately stopped and then interrupts it. If the process
// is still alive after the grace period it is killed. Stop never blocks; the
// returned channel closes when the process is gone.
func (s *Supervisor) Stop(h *Handle) <-chan struct{} {
	if h == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	// The mark must be visible before the signal so the exit is never
	// classified as natural.
	if !h.stopped.CompareAndSwap(false, true) {
		return h.done
	}

	select {
	case <-h.done:
		return h.done
	default:
	}

	logger := s.logger.With("generation", h.Generation, "pid", h.Pid())
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("failed to interrupt transcoder", "err", err)
	}

	go func() {
		select {
		case <-h.done:
			return
		case <-time.After(s.cfg.StopGrace):
		}

		logger.Warn("transcoder ignored interrupt, killing", "grace", s.cfg.StopGrace)
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Error("failed to kill transcoder", "err", err)
		}

		select {
		case <-h.done:
		case <-time.After(s.cfg.StopGrace):
			logger.Error("transcoder could not be killed")
		}
	}()

	return h.done
}

func (s *Supervisor) readDiagnostics(h *Handle, r io.Reader, hooks Hooks) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Debug("transcoder", "generation", h.Generation, "line", line)
		if hooks.OnLine != nil {
			hooks.OnLine(h.Generation, line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("diagnostic stream ended", "generation", h.Generation, "err", err)
	}
}

func (s *Supervisor) pumpInput(h *Handle, r io.Reader, stdin io.WriteCloser, hooks Hooks, logger *slog.Logger) {
	var (
		n   int64
		err error
	)
	if lr, ok := r.(*lockedReader); ok {
		n, err = lr.copyTo(stdin)
	} else {
		n, err = io.Copy(stdin, r)
	}
	if closeErr := stdin.Close(); closeErr != nil && err == nil && !h.Stopped() {
		err = closeErr
	}
	logger.Debug("transcoder input finished", "bytes", n, "err", err)
	if hooks.OnInputDone != nil {
		hooks.OnInputDone(h.Generation, err)
	}
}

func classify(h *Handle, err error) ExitStatus {
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	switch {
	case h.Stopped():
		return ExitStatus{Kind: ExitStopped, Code: code, Err: err}
	case err == nil:
		return ExitStatus{Kind: ExitNatural}
	default:
		return ExitStatus{Kind: ExitAbnormal, Code: code, Err: err}
	}
}

// scanLinesWithCR splits on both \r and \n; ffmpeg rewrites its stats line
// with carriage returns.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
