package supervisor

import (
	"context"
	"fmt"

	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"golang.org/x/sync/errgroup"
)

type commandKind int

const (
	cmdCreate commandKind = iota
	cmdClose
	cmdCloseAll
	cmdStart
	cmdStop
	cmdRestart
)

func (k commandKind) String() string {
	switch k {
	case cmdCreate:
		return "create"
	case cmdClose:
		return "close"
	case cmdCloseAll:
		return "close-all"
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdRestart:
		return "restart"
	default:
		return "unknown"
	}
}

type result struct {
	ids []string
	err error
}

type command struct {
	kind     commandKind
	id       string
	names    []string
	closeAll bool
	reply    chan result
}

func newCommand(kind commandKind) command {
	return command{kind: kind, reply: make(chan result, 1)}
}

func commandFrom(c control.Command) (command, error) {
	var cmd command
	switch c.Type {
	case control.CommandCreate:
		cmd = newCommand(cmdCreate)
		cmd.names = c.Names
		cmd.closeAll = c.CloseAll
	case control.CommandClose:
		cmd = newCommand(cmdClose)
	case control.CommandCloseAll:
		cmd = newCommand(cmdCloseAll)
	case control.CommandStart:
		cmd = newCommand(cmdStart)
	case control.CommandStop:
		cmd = newCommand(cmdStop)
	case control.CommandRestart:
		cmd = newCommand(cmdRestart)
	default:
		return command{}, fmt.Errorf("%w: %q", control.ErrUnknownCommand, c.Type)
	}
	cmd.id = c.ID
	return cmd, nil
}

// enqueue hands cmd to the dispatcher. It returns once the dispatcher has
// taken it, so a later enqueue is handled after this one.
func (r *Registry) enqueue(ctx context.Context, cmd command) error {
	select {
	case r.commands <- cmd:
		return nil
	case <-r.quit:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit queues cmd and waits for its reply. The operation itself keeps
// running if ctx ends first.
func (r *Registry) submit(ctx context.Context, cmd command) (result, error) {
	if err := r.enqueue(ctx, cmd); err != nil {
		return result{}, err
	}
	res, err := ticket{reply: cmd.reply, quit: r.quit}.wait(ctx)
	return res, err
}

// ticket is the caller side of an enqueued command.
type ticket struct {
	reply chan result
	quit  chan struct{}
}

func (t ticket) wait(ctx context.Context) (result, error) {
	select {
	case res := <-t.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-t.quit:
		// The reply may have raced with shutdown.
		select {
		case res := <-t.reply:
			return res, res.err
		default:
			return result{}, ErrShutdown
		}
	}
}

// Wait blocks until the command has been applied.
func (t ticket) Wait(ctx context.Context) ([]string, error) {
	res, err := t.wait(ctx)
	return res.ids, err
}

// dispatch is the single consumer of the command queue.
func (r *Registry) dispatch() {
	defer close(r.stopped)

	for {
		select {
		case cmd := <-r.commands:
			r.handle(cmd)
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) handle(cmd command) {
	r.logger.Debug("Handling command", "command", cmd.kind.String(), "id", cmd.id, "names", cmd.names)

	switch cmd.kind {
	case cmdCreate:
		ids, err := r.create(cmd.names, cmd.closeAll)
		cmd.reply <- result{ids: ids, err: err}

	case cmdCloseAll:
		pending := r.closeAllAsync()
		go func() {
			cmd.reply <- result{err: r.waitClosed(pending)}
		}()

	case cmdClose, cmdStart, cmdStop, cmdRestart:
		inst := r.route(cmd.id, cmd.kind == cmdClose)
		if inst == nil {
			cmd.reply <- result{}
			return
		}
		inst.ops.push(op{kind: cmd.kind, reply: cmd.reply})
	}
}

// route returns the live instance for id, or nil if it is unknown or
// already closing. With markClosing the instance stops accepting further
// commands.
func (r *Registry) route(id string, markClosing bool) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok || inst.closing {
		return nil
	}
	if markClosing {
		inst.closing = true
	}
	return inst
}

// closeAllAsync queues a close on every instance not already closing and
// returns every instance that has to finish closing.
func (r *Registry) closeAllAsync() []*instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*instance, 0, len(r.instances))
	for _, id := range r.order {
		inst := r.instances[id]
		if !inst.closing {
			inst.closing = true
			inst.ops.push(op{kind: cmdClose, reply: make(chan result, 1)})
		}
		pending = append(pending, inst)
	}
	return pending
}

// waitClosed blocks until every instance has published its close.
func (r *Registry) waitClosed(pending []*instance) error {
	g, ctx := errgroup.WithContext(r.ctx)
	for _, inst := range pending {
		g.Go(func() error {
			select {
			case <-inst.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// create runs on the dispatcher so later commands see the new batch.
func (r *Registry) create(names []string, closeAll bool) ([]string, error) {
	if err := r.validateNames(names); err != nil {
		return nil, err
	}

	if closeAll {
		if err := r.waitClosed(r.closeAllAsync()); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	batch := make([]*instance, 0, len(names))
	for _, name := range names {
		spec, ok := r.catalog.Tasks[name]
		if !ok {
			// Removed by a reload while closing the previous generation.
			continue
		}
		inst := r.newInstanceLocked(spec)
		r.publishLocked(events.KindCreate, events.CreateData{ID: inst.id, Name: inst.task.Name(), Line: inst.task.Line()})
		batch = append(batch, inst)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for _, inst := range batch {
		r.logger.Info("Task created", "id", inst.id, "name", inst.task.Name(), "command", inst.task.Line())
		go r.forward(inst)
		go r.work(inst)
		inst.ops.push(op{kind: cmdStart, reply: make(chan result, 1)})
		ids = append(ids, inst.id)
	}
	return ids, nil
}
