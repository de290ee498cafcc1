package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
)

// ErrCommandFailed wraps an error reported by the server.
var ErrCommandFailed = errors.New("command failed")

// Client talks to a running biu server over NATS.
type Client struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Dial connects to the NATS server at url.
func Dial(url string, timeout time.Duration) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name("biu-client"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Initialize fetches the current snapshot.
func (c *Client) Initialize(ctx context.Context) (events.InitializeData, error) {
	msg, err := c.conn.RequestWithContext(ctx, SubjectControl(CommandInitialize), nil)
	if err != nil {
		return events.InitializeData{}, err
	}

	var env struct {
		Type string                `json:"type"`
		Data events.InitializeData `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return events.InitializeData{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return env.Data, nil
}

// Send issues a command and waits for the reply.
func (c *Client) Send(ctx context.Context, cmd control.Command) (Reply, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return Reply{}, err
	}
	msg, err := c.conn.RequestWithContext(ctx, SubjectControl(cmd.Type), data)
	if err != nil {
		return Reply{}, err
	}
	reply, err := UnmarshalReply(msg.Data)
	if err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return reply, fmt.Errorf("%w: %s", ErrCommandFailed, reply.Error)
	}
	return reply, nil
}

// Subscribe delivers event envelopes to handler until Close. An empty
// kinds list subscribes to all events on one subscription, which keeps
// publish order; separate kinds are delivered independently.
func (c *Client) Subscribe(handler func(Envelope), kinds ...string) error {
	subjects := []string{SubjectEventsPrefix + ".>"}
	if len(kinds) > 0 {
		subjects = subjects[:0]
		for _, kind := range kinds {
			subjects = append(subjects, SubjectEvent(kind))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subject := range subjects {
		sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
			env, err := UnmarshalEnvelope(msg.Data)
			if err != nil {
				return
			}
			handler(env)
		})
		if err != nil {
			return err
		}
		c.subs = append(c.subs, sub)
	}
	return c.conn.Flush()
}

// Close unsubscribes and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.conn.Close()
}
