package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/process"
	"github.com/smazurov/biu/internal/task"
)

// DefaultStopTimeout is how long a stop waits before the forced kill.
const DefaultStopTimeout = process.DefaultStopTimeout

var (
	// ErrUnknownTask is returned by Create for a name missing from the catalog.
	ErrUnknownTask = errors.New("unknown task")
	// ErrShutdown is returned for commands submitted after Shutdown.
	ErrShutdown = errors.New("registry shut down")
)

// Options configures a Registry.
type Options struct {
	// Catalog holds the task definitions (required).
	Catalog Catalog

	// Bus receives every viewer-visible message. If nil, a private bus is created.
	Bus *events.Bus

	// Resolver looks up task executables.
	Resolver process.Resolver

	// Terminator overrides the platform terminator (optional).
	Terminator process.Terminator

	// StopTimeout escalates stops to a forced kill. Zero disables it.
	StopTimeout time.Duration

	// Limits bound every problem matcher.
	Limits problems.Limits

	// Stdout and Stderr receive echoed task output. Default to os.Stdout/os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Report receives the textual problems report. Defaults to os.Stdout.
	Report io.Writer

	// Logger for registry operations. If nil, uses slog.Default().
	Logger logging.Logger
}

// Registry owns all live task instances.
type Registry struct {
	bus         *events.Bus
	resolver    process.Resolver
	terminator  process.Terminator
	stopTimeout time.Duration
	limits      problems.Limits
	stdout      io.Writer
	stderr      io.Writer
	report      io.Writer
	logger      logging.Logger

	commands chan command
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	startMu  sync.Mutex
	started  bool

	// mu guards everything below and every publish on the bus.
	mu        sync.Mutex
	catalog   Catalog
	instances map[string]*instance
	order     []string
	lastID    uint64

	reportMu       sync.Mutex
	reportedOwners map[string]struct{}
}

// New creates a registry. Call Start before submitting commands.
func New(opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		bus:         opts.Bus,
		resolver:    opts.Resolver,
		terminator:  opts.Terminator,
		stopTimeout: opts.StopTimeout,
		limits:      opts.Limits,
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
		report:      opts.Report,
		logger:      opts.Logger,
		commands:    make(chan command),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		catalog:     opts.Catalog,
		instances:   make(map[string]*instance),
	}
	if r.bus == nil {
		r.bus = events.New()
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}
	if r.stderr == nil {
		r.stderr = os.Stderr
	}
	if r.report == nil {
		r.report = os.Stdout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	var outMu sync.Mutex
	r.stdout = &lockedWriter{mu: &outMu, w: r.stdout}
	r.stderr = &lockedWriter{mu: &outMu, w: r.stderr}
	r.report = &lockedWriter{mu: &outMu, w: r.report}
	return r
}

// Bus returns the bus the registry publishes on.
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// Start launches the dispatcher.
func (r *Registry) Start() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.dispatch()
}

// Shutdown closes every instance and stops the dispatcher. If ctx ends
// first, pending stop waits are abandoned and ctx.Err is returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.startMu.Lock()
	started := r.started
	r.startMu.Unlock()

	var err error
	if started {
		err = r.CloseAll(ctx)
	}

	r.quitOnce.Do(func() { close(r.quit) })
	r.cancel()
	if started {
		<-r.stopped
	}
	return err
}

// Create creates and starts one instance per name and returns their ids.
// With closeAll, all current instances are fully closed first.
func (r *Registry) Create(ctx context.Context, names []string, closeAll bool) ([]string, error) {
	cmd := newCommand(cmdCreate)
	cmd.names = names
	cmd.closeAll = closeAll
	res, err := r.submit(ctx, cmd)
	return res.ids, err
}

// Close stops the instance, waits for it and removes it.
func (r *Registry) Close(ctx context.Context, id string) error {
	cmd := newCommand(cmdClose)
	cmd.id = id
	_, err := r.submit(ctx, cmd)
	return err
}

// CloseAll closes every instance concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	_, err := r.submit(ctx, newCommand(cmdCloseAll))
	return err
}

// StartTask starts the instance if it is idle.
func (r *Registry) StartTask(ctx context.Context, id string) error {
	cmd := newCommand(cmdStart)
	cmd.id = id
	_, err := r.submit(ctx, cmd)
	return err
}

// StopTask requests the instance to stop without waiting.
func (r *Registry) StopTask(ctx context.Context, id string) error {
	cmd := newCommand(cmdStop)
	cmd.id = id
	_, err := r.submit(ctx, cmd)
	return err
}

// RestartTask stops the instance, waits for the stop, then starts it.
func (r *Registry) RestartTask(ctx context.Context, id string) error {
	cmd := newCommand(cmdRestart)
	cmd.id = id
	_, err := r.submit(ctx, cmd)
	return err
}

// Enqueue accepts cmd and returns without waiting for it to apply.
// Commands enqueued in sequence are handled in that order.
func (r *Registry) Enqueue(ctx context.Context, c control.Command) (control.Pending, error) {
	cmd, err := commandFrom(c)
	if err != nil {
		return nil, err
	}
	if err := r.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	return ticket{reply: cmd.reply, quit: r.quit}, nil
}

// Connect returns the initialize snapshot together with a subscription
// receiving every message published after it.
func (r *Registry) Connect() (events.InitializeData, *events.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := events.SubscribeMessages(r.bus)
	return r.snapshotLocked(), sub
}

// Snapshot returns the current initialize payload.
func (r *Registry) Snapshot() events.InitializeData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() events.InitializeData {
	created := make([]events.TaskInfo, 0, len(r.order))
	for _, id := range r.order {
		inst := r.instances[id]
		created = append(created, events.TaskInfo{
			ID:      inst.id,
			Name:    inst.task.Name(),
			Line:    inst.task.Line(),
			Running: inst.running,
		})
	}
	return events.InitializeData{
		TaskNames:    r.catalog.Names(),
		TaskGroups:   r.catalog.Groups,
		CreatedTasks: created,
	}
}

// Reload swaps the catalog used by future creates and announces the new
// task names. Live instances keep their definition.
func (r *Registry) Reload(c Catalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = c
	r.publishLocked(events.KindReload, events.ReloadData{
		TaskNames:  c.Names(),
		TaskGroups: c.Groups,
	})
	r.logger.Info("Task definitions reloaded", "tasks", len(c.Tasks))
}

// publishLocked publishes a message. r.mu must be held.
func (r *Registry) publishLocked(kind string, data any) {
	r.bus.Publish(events.Message{Kind: kind, Data: data})
}

// newInstanceLocked allocates the next id and builds the task. r.mu must be held.
func (r *Registry) newInstanceLocked(spec TaskSpec) *instance {
	r.lastID++
	id := strconv.FormatUint(r.lastID, 10)

	var matcher *problems.Matcher
	if spec.Matcher != nil {
		matcher = spec.Matcher.NewMatcher(spec.Definition.Dir, r.limits)
	}

	t := task.New(spec.Definition, task.Options{
		Resolver:    r.resolver,
		Matcher:     matcher,
		Terminator:  r.terminator,
		StopTimeout: r.stopTimeout,
		Stdout:      r.stdout,
		Stderr:      r.stderr,
		Logger:      r.logger,
	})

	inst := newInstance(id, t)
	r.instances[id] = inst
	r.order = append(r.order, id)
	return inst
}

// removeLocked drops an instance from the registry. r.mu must be held.
func (r *Registry) removeLocked(id string) {
	delete(r.instances, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) validateNames(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.catalog.Tasks[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
	}
	return nil
}
