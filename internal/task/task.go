// Package task implements the supervised unit: one process handle, an
// optional problem matcher and a lifecycle state machine that reports
// everything on a single outbound event channel.
package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/process"
)

const eventBufferSize = 256

// ErrClosed is returned by operations on a closed task.
var ErrClosed = errors.New("task closed")

// EventType names an outbound task event.
type EventType string

// Task events.
const (
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventError    EventType = "error"
	EventExit     EventType = "exit"
	EventStdout   EventType = "stdout"
	EventStderr   EventType = "stderr"
	EventProblems EventType = "problems-update"
)

// Event is sent on the channel returned by Events.
type Event struct {
	Type EventType

	// Data is the raw chunk for stdout/stderr events.
	Data []byte

	// Error is the normalized error text for error events.
	Error string

	// Code is the exit code for exit events, nil when killed by a signal.
	Code *int
}

// Definition is the immutable description of a task.
type Definition struct {
	Name       string
	Executable string
	Args       []string
	Dir        string
	EchoStdout bool
	EchoStderr bool
}

// Options configures a Task.
type Options struct {
	// Resolver looks up the executable once, at construction.
	Resolver process.Resolver

	// Matcher parses output into diagnostics (optional).
	Matcher *problems.Matcher

	// Terminator overrides the platform terminator (optional).
	Terminator process.Terminator

	// StopTimeout escalates a stop to a forced kill. Zero disables it.
	StopTimeout time.Duration

	// Stdout and Stderr receive echoed output when the definition asks
	// for it. Nil disables echo.
	Stdout io.Writer
	Stderr io.Writer

	// Logger for task operations. If nil, uses slog.Default().
	Logger logging.Logger
}

// Task supervises runs of one Definition.
type Task struct {
	def     Definition
	line    string
	handle  *process.Handle
	matcher *problems.Matcher
	stdout  io.Writer
	stderr  io.Writer
	logger  logging.Logger
	events  chan Event

	mu            sync.Mutex
	state         process.State
	stopped       chan struct{} // closed once the current run emitted stop
	stopRequested bool
	closed        bool // no new runs
	eventsClosed  bool
}

// New creates an idle task. The executable is resolved here; a failed
// lookup keeps the literal name so the failure surfaces at start.
func New(def Definition, opts Options) *Task {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := opts.Resolver.Resolve(def.Executable, def.Dir)

	t := &Task{
		def:     def,
		line:    process.DisplayLine(def.Executable, def.Args),
		matcher: opts.Matcher,
		logger:  logger,
		events:  make(chan Event, eventBufferSize),
		state:   process.StateIdle,
	}
	if def.EchoStdout {
		t.stdout = opts.Stdout
	}
	if def.EchoStderr {
		t.stderr = opts.Stderr
	}
	t.handle = process.NewHandle(process.Options{
		Path:        path,
		Args:        def.Args,
		Dir:         def.Dir,
		Terminator:  opts.Terminator,
		StopTimeout: opts.StopTimeout,
		Logger:      logger,
	})
	return t
}

// Name returns the definition name.
func (t *Task) Name() string { return t.def.Name }

// Line returns the display command line.
func (t *Task) Line() string { return t.line }

// Path returns the resolved executable.
func (t *Task) Path() string { return t.handle.Path() }

// Matcher returns the problem matcher, or nil.
func (t *Task) Matcher() *problems.Matcher { return t.matcher }

// Events returns the outbound event channel. It is closed by Close.
func (t *Task) Events() <-chan Event { return t.events }

// State returns the current lifecycle state.
func (t *Task) State() process.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Running reports whether a run is in progress (any state but idle).
func (t *Task) Running() bool {
	return t.State() != process.StateIdle
}

// Start begins a run. It returns false unless the task is idle.
func (t *Task) Start() bool {
	t.mu.Lock()
	if t.closed || t.state != process.StateIdle {
		t.mu.Unlock()
		return false
	}
	t.state = process.StateStarting
	t.stopRequested = false
	done := make(chan struct{})
	t.stopped = done
	t.events <- Event{Type: EventStart}
	t.mu.Unlock()

	if t.matcher != nil && t.matcher.Reset() {
		t.events <- Event{Type: EventProblems}
	}

	procEvents, _ := t.handle.Start()

	t.mu.Lock()
	if t.state == process.StateStarting {
		t.state = process.StateRunning
	}
	if t.stopRequested {
		t.state = process.StateStopping
		t.handle.Stop()
	}
	t.mu.Unlock()

	t.logger.Info("Task started", "task", t.def.Name, "command", t.line)

	go t.relay(procEvents, done)
	return true
}

// Stop requests termination of the current run. It returns false if the
// task is idle or already stopping. The run ends asynchronously with a
// stop event.
func (t *Task) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case process.StateStarting:
		t.stopRequested = true
		return true
	case process.StateRunning:
		if !t.handle.Stop() {
			// The process already ended; relay is about to emit stop.
			return false
		}
		t.state = process.StateStopping
		return true
	default:
		return false
	}
}

// StopWait stops the current run and blocks until its stop event has
// been emitted. It returns nil at once if the task is idle. Any number of
// callers may wait concurrently.
func (t *Task) StopWait(ctx context.Context) error {
	t.Stop()

	t.mu.Lock()
	done := t.stopped
	t.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the current run, waits for it, then starts a new one.
func (t *Task) Restart(ctx context.Context) error {
	if err := t.StopWait(ctx); err != nil {
		return err
	}
	if !t.Start() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return ErrClosed
		}
	}
	return nil
}

// Close stops the task and closes the event channel once the last run has
// emitted stop. The task cannot be started again.
func (t *Task) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.eventsClosed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.StopWait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.eventsClosed {
		t.eventsClosed = true
		close(t.events)
	}
	return nil
}

// relay forwards process events for one run and finishes it.
func (t *Task) relay(procEvents <-chan process.Event, done chan struct{}) {
	for ev := range procEvents {
		switch ev := ev.(type) {
		case process.Output:
			t.handleOutput(ev)
		case process.Exit:
			if ev.Code != nil {
				t.logger.Info("Task exited", "task", t.def.Name, "exit_code", *ev.Code)
			} else {
				t.logger.Info("Task killed", "task", t.def.Name)
			}
			t.events <- Event{Type: EventExit, Code: ev.Code}
		case process.Failure:
			t.mu.Lock()
			t.state = process.StateError
			t.mu.Unlock()
			t.logger.Error("Task failed", "task", t.def.Name, "error", ev.Err)
			t.events <- Event{Type: EventError, Error: ev.Err.Error()}
		}
	}

	if t.matcher != nil && t.matcher.Flush() {
		t.events <- Event{Type: EventProblems}
	}

	t.mu.Lock()
	t.events <- Event{Type: EventStop}
	t.state = process.StateIdle
	t.stopped = nil
	close(done)
	t.mu.Unlock()
}

func (t *Task) handleOutput(ev process.Output) {
	eventType := EventStdout
	stream := problems.Stdout
	echo := t.stdout
	if ev.Stream == process.StreamStderr {
		eventType = EventStderr
		stream = problems.Stderr
		echo = t.stderr
	}

	changed := false
	if t.matcher != nil {
		changed = t.matcher.Write(stream, ev.Data)
	}

	if echo != nil {
		if _, err := echo.Write(ev.Data); err != nil {
			t.logger.Debug("Failed to echo output", "task", t.def.Name, "error", err)
		}
	}

	t.events <- Event{Type: eventType, Data: ev.Data}

	if changed {
		t.events <- Event{Type: EventProblems}
	}
}
