package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
)

// DefaultCommandTimeout bounds how long a control request may take.
const DefaultCommandTimeout = 30 * time.Second

// Supervisor is what the bridge needs from the registry.
type Supervisor interface {
	control.Queuer
	Connect() (events.InitializeData, *events.Subscription)
	Snapshot() events.InitializeData
}

// Bridge mirrors the event bus onto NATS and accepts control commands.
type Bridge struct {
	url        string
	supervisor Supervisor
	timeout    time.Duration
	logger     logging.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	events *events.Subscription
	done   chan struct{}
	cancel context.CancelFunc // ends pending command waits
}

// NewBridge creates a bridge between sup and the NATS server at url.
func NewBridge(url string, sup Supervisor, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default().With("component", "nats-bridge")
	}
	return &Bridge{
		url:        url,
		supervisor: sup,
		timeout:    DefaultCommandTimeout,
		logger:     logger,
	}
}

// Start connects, subscribes to control subjects and begins forwarding
// supervisor events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("biu-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := conn.Subscribe(SubjectControlPrefix+".>", func(msg *nats.Msg) {
		b.handleControl(ctx, msg)
	})
	if err != nil {
		cancel()
		conn.Close()
		return err
	}
	// Make sure the subscription is registered before anyone is told we are up.
	if err := conn.Flush(); err != nil {
		cancel()
		conn.Close()
		return err
	}

	_, evSub := b.supervisor.Connect()

	b.conn = conn
	b.sub = sub
	b.cancel = cancel
	b.events = evSub
	b.done = make(chan struct{})
	go b.forward(conn, evSub, b.done)

	b.logger.Info("NATS bridge connected", "url", b.url)
	return nil
}

// forward publishes every supervisor message on its event subject.
func (b *Bridge) forward(conn *nats.Conn, sub *events.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-sub.Done():
			return
		case msg := <-sub.C:
			data, err := json.Marshal(msg)
			if err != nil {
				b.logger.Warn("Failed to marshal event", "type", msg.Kind, "error", err)
				continue
			}
			if err := conn.Publish(SubjectEvent(msg.Kind), data); err != nil {
				b.logger.Debug("Failed to publish event", "type", msg.Kind, "error", err)
			}
		}
	}
}

// handleControl enqueues one command and replies once it has applied.
// Messages on a subscription are delivered one at a time, so commands are
// enqueued in arrival order. Waiting happens off the delivery goroutine.
func (b *Bridge) handleControl(base context.Context, msg *nats.Msg) {
	kind := commandFromSubject(msg.Subject)

	if kind == CommandInitialize {
		snapshot := events.Message{Kind: events.KindInitialize, Data: b.supervisor.Snapshot()}
		b.respond(msg, snapshot)
		return
	}

	cmd, err := control.ParseData(kind, msg.Data)
	if err != nil {
		b.logger.Warn("Rejected control message", "subject", msg.Subject, "error", err)
		b.respond(msg, Reply{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(base, b.timeout)
	p, err := b.supervisor.Enqueue(ctx, cmd)
	if err != nil {
		cancel()
		b.fail(msg, kind, err)
		return
	}

	go func() {
		defer cancel()

		ids, err := p.Wait(ctx)
		if err != nil {
			b.fail(msg, kind, err)
			return
		}
		b.logger.Debug("Control command applied", "command", kind, "id", cmd.ID, "names", cmd.Names)
		b.respond(msg, Reply{OK: true, IDs: ids})
	}()
}

func (b *Bridge) fail(msg *nats.Msg, kind string, err error) {
	level := b.logger.Warn
	if errors.Is(err, context.DeadlineExceeded) {
		level = b.logger.Error
	}
	level("Control command failed", "command", kind, "error", err)
	b.respond(msg, Reply{Error: err.Error()})
}

func (b *Bridge) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Debug("Failed to send reply", "error", err)
	}
}

// Stop unsubscribes, stops forwarding and closes the connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.events != nil {
		b.events.Close()
		<-b.done
		b.events = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
