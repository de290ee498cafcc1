package process

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/smazurov/biu/internal/logging"
)

const (
	// DefaultStopTimeout is how long a stopped process may take to exit
	// before the terminator escalates to a forced kill.
	DefaultStopTimeout = 5 * time.Second

	// DefaultOutputGrace bounds how long output pipes held open by orphaned
	// children may delay the termination event.
	DefaultOutputGrace = time.Second

	eventBufferSize = 64
)

// Options configures a Handle.
type Options struct {
	// Path is the resolved executable (required).
	Path string

	// Args are passed to the executable, not including argv[0].
	Args []string

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// Env overrides the inherited environment when non-nil.
	Env []string

	// Terminator delivers kill requests. If nil, uses NewTerminator.
	Terminator Terminator

	// StopTimeout escalates a stop to Terminator.Kill after this long.
	// Zero disables escalation: a process ignoring the stop request keeps
	// running until it exits on its own.
	StopTimeout time.Duration

	// OutputGrace is the exec.Cmd WaitDelay. Zero uses DefaultOutputGrace.
	OutputGrace time.Duration

	// Logger for handle operations. If nil, uses slog.Default().
	Logger logging.Logger
}

// Handle manages one spawned process at a time.
type Handle struct {
	path        string
	args        []string
	dir         string
	env         []string
	terminator  Terminator
	stopTimeout time.Duration
	outputGrace time.Duration
	logger      logging.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	running   bool
	killTimer *time.Timer
}

// NewHandle creates a handle. Nothing is spawned until Start.
func NewHandle(opts Options) *Handle {
	h := &Handle{
		path:        opts.Path,
		args:        opts.Args,
		dir:         opts.Dir,
		env:         opts.Env,
		terminator:  opts.Terminator,
		stopTimeout: opts.StopTimeout,
		outputGrace: opts.OutputGrace,
		logger:      opts.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.terminator == nil {
		h.terminator = NewTerminator(h.logger)
	}
	if h.outputGrace <= 0 {
		h.outputGrace = DefaultOutputGrace
	}
	return h
}

// Path returns the executable the handle spawns.
func (h *Handle) Path() string {
	return h.path
}

// Running reports whether a process is currently alive.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Pid returns the OS process id, or 0 when nothing is running.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Start spawns the process. It returns false if a process is already
// running. A spawn failure is not returned: it is delivered as a Failure
// event on the returned channel, which is then closed.
func (h *Handle) Start() (<-chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil, false
	}

	events := make(chan Event, eventBufferSize)

	cmd := exec.Command(h.path, h.args...)
	cmd.Dir = h.dir
	cmd.Env = h.env
	cmd.Stdout = &chunkWriter{stream: StreamStdout, events: events}
	cmd.Stderr = &chunkWriter{stream: StreamStderr, events: events}
	cmd.WaitDelay = h.outputGrace
	h.terminator.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		h.logger.Debug("Failed to spawn process", "path", h.path, "error", err)
		events <- Failure{Err: fmt.Errorf("spawn %s: %w", h.path, err)}
		close(events)
		return events, true
	}

	h.logger.Debug("Process started", "path", h.path, "pid", cmd.Process.Pid)

	h.cmd = cmd
	h.running = true

	go h.wait(cmd, events)

	return events, true
}

// Stop requests termination and returns immediately. It returns false if
// no process is running. Termination is confirmed only by the Exit or
// Failure event.
func (h *Handle) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running || h.cmd == nil || h.cmd.Process == nil {
		return false
	}

	pid := h.cmd.Process.Pid
	if err := h.terminator.Terminate(pid); err != nil {
		h.logger.Warn("Failed to request process stop", "pid", pid, "error", err)
	}

	if h.stopTimeout > 0 && h.killTimer == nil {
		cmd := h.cmd
		h.killTimer = time.AfterFunc(h.stopTimeout, func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.cmd != cmd || !h.running {
				return
			}
			h.logger.Warn("Stop timeout, forcing kill", "pid", pid, "timeout", h.stopTimeout)
			if err := h.terminator.Kill(pid); err != nil {
				h.logger.Warn("Failed to kill process", "pid", pid, "error", err)
			}
		})
	}

	return true
}

// wait blocks until the process and its output copiers are done, then
// sends the single termination event.
func (h *Handle) wait(cmd *exec.Cmd, events chan Event) {
	err := cmd.Wait()

	h.mu.Lock()
	if h.killTimer != nil {
		h.killTimer.Stop()
		h.killTimer = nil
	}
	h.cmd = nil
	h.running = false
	h.mu.Unlock()

	ev := terminationEvent(err)
	if exit, ok := ev.(Exit); ok {
		if exit.Code != nil {
			h.logger.Debug("Process exited", "path", h.path, "exit_code", *exit.Code)
		} else {
			h.logger.Debug("Process killed by signal", "path", h.path)
		}
	}

	events <- ev
	close(events)
}

// terminationEvent converts the cmd.Wait result into an Exit or Failure.
func terminationEvent(err error) Event {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		code := 0
		return Exit{Code: &code}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return Exit{Code: &code}
		}
		return Exit{}
	}
	return Failure{Err: err}
}

// chunkWriter forwards each write from the exec output copier as one
// Output event.
type chunkWriter struct {
	stream Stream
	events chan<- Event
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.events <- Output{Stream: w.stream, Data: bytes.Clone(p)}
	return len(p), nil
}
