package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "biu"

// Attributes that name the task or session a record is about get stable
// journal fields, so `journalctl BIU_TASK=build` or `BIU_TASK_ID=3`
// selects one task's history. Registry records call the task "name",
// task records call it "task".
var journalFieldNames = map[string]string{
	"module":     "BIU_MODULE",
	"task":       "BIU_TASK",
	"name":       "BIU_TASK",
	"id":         "BIU_TASK_ID",
	"pid":        "BIU_PID",
	"session_id": "BIU_SESSION",
	"command":    "BIU_COMMAND",
}

// JournalHandler is a slog.Handler that sends records to the systemd
// journal. Attributes become BIU_* fields.
type JournalHandler struct {
	level  slog.Leveler
	fields map[string]string // rendered WithAttrs attributes
	groups []string
}

// NewJournalHandler creates a journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level:  level,
		fields: map[string]string{"SYSLOG_IDENTIFIER": syslogIdentifier},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := maps.Clone(h.fields)
	r.Attrs(func(attr slog.Attr) bool {
		addJournalField(fields, h.groups, attr)
		return true
	})

	if err := journal.Send(r.Message, journalPriority(r.Level), fields); err != nil {
		return fmt.Errorf("journal send: %w", err)
	}
	return nil
}

// WithAttrs renders attrs once so Handle only adds the record's own.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := maps.Clone(h.fields)
	for _, attr := range attrs {
		addJournalField(fields, h.groups, attr)
	}
	return &JournalHandler{level: h.level, fields: fields, groups: h.groups}
}

// WithGroup nests later attributes under name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &JournalHandler{level: h.level, fields: h.fields, groups: groups}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalKey maps an attribute path to a journal field name. Field names
// may only hold A-Z, 0-9 and underscores.
func journalKey(groups []string, key string) string {
	if len(groups) == 0 {
		if name, ok := journalFieldNames[key]; ok {
			return name
		}
	}

	parts := append(append([]string{"BIU"}, groups...), key)
	raw := strings.ToUpper(strings.Join(parts, "_"))
	return strings.Map(func(c rune) rune {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			return c
		}
		return '_'
	}, raw)
}

func addJournalField(fields map[string]string, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		nested := groups
		if attr.Key != "" {
			nested = append(append([]string(nil), groups...), attr.Key)
		}
		for _, a := range attr.Value.Group() {
			addJournalField(fields, nested, a)
		}
	case slog.KindTime:
		fields[journalKey(groups, attr.Key)] = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			fields[journalKey(groups, attr.Key)] = err.Error()
			return
		}
		fields[journalKey(groups, attr.Key)] = attr.Value.String()
	default:
		fields[journalKey(groups, attr.Key)] = attr.Value.String()
	}
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
