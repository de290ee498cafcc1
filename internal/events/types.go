package events

// Event type constants for kelindar/event.
const (
	TypeMessage uint32 = iota + 1
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Message kinds seen by viewers.
const (
	KindInitialize = "initialize"
	KindCreate     = "create"
	KindClose      = "close"
	KindStart      = "start"
	KindStop       = "stop"
	KindError      = "error"
	KindExit       = "exit"
	KindStdout     = "stdout"
	KindStderr     = "stderr"
	KindProblems   = "problems-update"
	KindReload     = "reload"
)

// Message is the envelope for every control-plane event. All viewer
// traffic shares this single event type so subscribers observe one total
// order.
type Message struct {
	Kind string `json:"type" example:"stdout" doc:"Event kind"`
	Data any    `json:"data" doc:"Kind specific payload"`
}

// Type returns the event type identifier for Message.
func (m Message) Type() uint32 { return TypeMessage }

// TaskInfo describes a live task instance.
type TaskInfo struct {
	ID      string `json:"id" example:"1" doc:"Task instance id"`
	Name    string `json:"name" example:"build" doc:"Task definition name"`
	Line    string `json:"line" example:"tsc -w" doc:"Display command line"`
	Running bool   `json:"running" example:"true" doc:"Whether a process is running"`
}

// InitializeData is the snapshot sent to a viewer on connect.
type InitializeData struct {
	TaskNames    []string   `json:"taskNames" doc:"Names of all task definitions"`
	TaskGroups   any        `json:"taskGroups" doc:"Presentation groups from configuration"`
	CreatedTasks []TaskInfo `json:"createdTasks" doc:"Live task instances ordered by id"`
}

// CreateData announces a new task instance.
type CreateData struct {
	ID   string `json:"id" example:"1" doc:"Task instance id"`
	Name string `json:"name" example:"build" doc:"Task definition name"`
	Line string `json:"line" example:"tsc -w" doc:"Display command line"`
}

// IDData is the payload of close, start and stop.
type IDData struct {
	ID string `json:"id" example:"1" doc:"Task instance id"`
}

// ErrorData reports a spawn or runtime failure.
type ErrorData struct {
	ID    string `json:"id" example:"1" doc:"Task instance id"`
	Error string `json:"error" doc:"Error text"`
}

// ExitData reports process exit. Code is null when killed by a signal.
type ExitData struct {
	ID   string `json:"id" example:"1" doc:"Task instance id"`
	Code *int   `json:"code" example:"0" doc:"Exit code"`
}

// OutputData carries a stdout or stderr chunk.
type OutputData struct {
	ID   string `json:"id" example:"1" doc:"Task instance id"`
	Data string `json:"data" example:"hello\n" doc:"Output chunk"`
}

// ProblemsData carries the aggregated diagnostics report.
type ProblemsData struct {
	Problems map[string][]string `json:"problems" doc:"Diagnostic lines grouped by owner"`
}

// ReloadData announces new task definitions.
type ReloadData struct {
	TaskNames  []string `json:"taskNames" doc:"Names of all task definitions"`
	TaskGroups any      `json:"taskGroups" doc:"Presentation groups from configuration"`
}

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"supervisor" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
