package supervisor

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/task"
)

type op struct {
	kind  commandKind
	reply chan result
}

// opQueue is an unbounded FIFO so the dispatcher never waits on a busy
// instance.
type opQueue struct {
	mu    sync.Mutex
	items []op
	ready chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{ready: make(chan struct{}, 1)}
}

func (q *opQueue) push(o op) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *opQueue) pop(ctx context.Context) (op, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = op{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return op{}, false
		}
	}
}

type instance struct {
	id   string
	task *task.Task
	ops  *opQueue

	// Guarded by Registry.mu.
	running bool
	closing bool

	// Only touched by the forwarder.
	pending map[task.EventType][]byte

	closed chan struct{} // closed after the close message is published
}

func newInstance(id string, t *task.Task) *instance {
	return &instance{
		id:      id,
		task:    t,
		ops:     newOpQueue(),
		pending: make(map[task.EventType][]byte),
		closed:  make(chan struct{}),
	}
}

// work executes the instance's operations one at a time.
func (r *Registry) work(inst *instance) {
	for {
		o, ok := inst.ops.pop(r.ctx)
		if !ok {
			return
		}

		var err error
		switch o.kind {
		case cmdStart:
			inst.task.Start()
		case cmdStop:
			inst.task.Stop()
		case cmdRestart:
			err = inst.task.Restart(r.ctx)
		case cmdClose:
			err = inst.task.Close(r.ctx)
			if err == nil {
				select {
				case <-inst.closed:
				case <-r.ctx.Done():
					err = r.ctx.Err()
				}
			}
			o.reply <- result{err: err}
			return
		}
		o.reply <- result{err: err}
	}
}

// forward publishes the task's events until its channel closes, then
// removes the instance and publishes close.
func (r *Registry) forward(inst *instance) {
	hadMatcher := inst.task.Matcher() != nil

	for ev := range inst.task.Events() {
		r.publishTaskEvent(inst, ev)
	}

	r.mu.Lock()
	r.removeLocked(inst.id)
	r.publishLocked(events.KindClose, events.IDData{ID: inst.id})
	r.mu.Unlock()

	r.logger.Info("Task closed", "id", inst.id, "name", inst.task.Name())

	if hadMatcher && inst.task.Matcher().Len() > 0 {
		r.reportProblems()
	}

	close(inst.closed)
}

func (r *Registry) publishTaskEvent(inst *instance, ev task.Event) {
	switch ev.Type {
	case task.EventStart:
		r.mu.Lock()
		inst.running = true
		r.publishLocked(events.KindStart, events.IDData{ID: inst.id})
		r.mu.Unlock()

	case task.EventStop:
		r.mu.Lock()
		r.flushOutputLocked(inst)
		inst.running = false
		r.publishLocked(events.KindStop, events.IDData{ID: inst.id})
		r.mu.Unlock()

	case task.EventError:
		r.logger.Error("Task error", "id", inst.id, "name", inst.task.Name(), "error", ev.Error)
		r.mu.Lock()
		r.publishLocked(events.KindError, events.ErrorData{ID: inst.id, Error: ev.Error})
		r.mu.Unlock()

	case task.EventExit:
		r.mu.Lock()
		r.flushOutputLocked(inst)
		r.publishLocked(events.KindExit, events.ExitData{ID: inst.id, Code: ev.Code})
		r.mu.Unlock()

	case task.EventStdout, task.EventStderr:
		text := inst.decode(ev.Type, ev.Data)
		if text == "" {
			return
		}
		r.mu.Lock()
		r.publishLocked(string(ev.Type), events.OutputData{ID: inst.id, Data: text})
		r.mu.Unlock()

	case task.EventProblems:
		r.reportProblems()
	}
}

// decode turns a chunk into text, holding back an incomplete UTF-8
// sequence at the end so a rune split across chunks survives.
func (inst *instance) decode(stream task.EventType, data []byte) string {
	if held := inst.pending[stream]; len(held) > 0 {
		data = append(held, data...)
		inst.pending[stream] = nil
	}

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(data) {
		inst.pending[stream] = append([]byte(nil), data[cut:]...)
		data = data[:cut]
	}

	return toValidUTF8(data)
}

// flushOutputLocked publishes held back bytes before the run ends.
func (r *Registry) flushOutputLocked(inst *instance) {
	for _, stream := range []task.EventType{task.EventStdout, task.EventStderr} {
		held := inst.pending[stream]
		if len(held) == 0 {
			continue
		}
		inst.pending[stream] = nil
		r.publishLocked(string(stream), events.OutputData{ID: inst.id, Data: toValidUTF8(held)})
	}
}

func toValidUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
