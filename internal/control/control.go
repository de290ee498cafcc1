// Package control parses viewer commands and hands them to the
// supervisor. Every transport (WebSocket, NATS, REST) goes through here.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Command kinds accepted from clients.
const (
	CommandCreate   = "create"
	CommandClose    = "close"
	CommandCloseAll = "close-all"
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandRestart  = "restart"
)

var (
	// ErrMalformed is returned for input that is not a JSON object.
	ErrMalformed = errors.New("malformed command")
	// ErrUnknownCommand is returned for an unrecognized command type.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingID is returned when a per-instance command lacks an id.
	ErrMissingID = errors.New("missing task id")
)

// Pending is a command the supervisor has accepted but may not have
// finished. Wait may be called once.
type Pending interface {
	Wait(ctx context.Context) ([]string, error)
}

// Queuer accepts commands without waiting for their outcome. Commands
// enqueued one after another apply in that order, while slow ones such
// as close only hold up later commands for the same instance.
type Queuer interface {
	Enqueue(ctx context.Context, cmd Command) (Pending, error)
}

// Command is a decoded client command.
type Command struct {
	Type     string   `json:"type"`
	Names    []string `json:"names,omitempty"`
	CloseAll bool     `json:"closeAll,omitempty"`
	ID       string   `json:"id,omitempty"`
}

// ParseEnvelope decodes {"type": ..., "data": {...}}.
func ParseEnvelope(raw []byte) (Command, error) {
	if !gjson.ValidBytes(raw) {
		return Command{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Command{}, ErrMalformed
	}
	data := root.Get("data")
	return parse(root.Get("type").String(), data)
}

// ParseData decodes the data object of a command whose type is known from
// elsewhere, such as a NATS subject. Empty data is allowed.
func ParseData(kind string, raw []byte) (Command, error) {
	if len(raw) == 0 {
		return parse(kind, gjson.Result{})
	}
	if !gjson.ValidBytes(raw) {
		return Command{}, ErrMalformed
	}
	return parse(kind, gjson.ParseBytes(raw))
}

func parse(kind string, data gjson.Result) (Command, error) {
	cmd := Command{Type: kind}

	switch kind {
	case CommandCreate:
		for _, name := range data.Get("names").Array() {
			cmd.Names = append(cmd.Names, name.String())
		}
		cmd.CloseAll = data.Get("closeAll").Bool()

	case CommandCloseAll:

	case CommandClose, CommandStart, CommandStop, CommandRestart:
		id := data.Get("id")
		if !id.Exists() || id.String() == "" {
			return Command{}, fmt.Errorf("%s: %w", kind, ErrMissingID)
		}
		cmd.ID = id.String()

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
	}
	return cmd, nil
}

// Execute enqueues cmd and waits for it to apply. Only create returns ids.
func Execute(ctx context.Context, q Queuer, cmd Command) ([]string, error) {
	p, err := q.Enqueue(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}
