package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sink is one named destination of a MultiHandler.
type Sink struct {
	Name    string
	Handler slog.Handler
}

// MultiHandler fans records out to the console, journal and ring buffer
// sinks. A sink only sees records at or above its own level.
type MultiHandler struct {
	sinks []Sink
}

// NewMultiHandler creates a handler over sinks. Sinks without a handler
// are skipped.
func NewMultiHandler(sinks ...Sink) *MultiHandler {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			kept = append(kept, s)
		}
	}
	return &MultiHandler{sinks: kept}
}

// Enabled implements slog.Handler.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range m.sinks {
		if s.Handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler. A failing sink, usually the journal
// after its socket went away, does not keep the record from the others.
// Failures carry the sink name.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if !s.Handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	sinks := make([]Sink, len(m.sinks))
	for i, s := range m.sinks {
		sinks[i] = Sink{Name: s.Name, Handler: fn(s.Handler)}
	}
	return &MultiHandler{sinks: sinks}
}
