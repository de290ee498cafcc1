package process

// State represents the lifecycle state of a supervised process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not running
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Kill requested, waiting for exit
	StateError    State = "error"    // Failed to start/crashed
)

// Stream identifies which output pipe a chunk came from.
type Stream string

// Output streams.
const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is sent on the channel returned by Handle.Start.
type Event interface {
	processEvent()
}

// Output is a raw chunk read from stdout or stderr.
type Output struct {
	Stream Stream
	Data   []byte
}

// Exit reports that the process terminated on its own or was killed.
// Code is nil when the process was terminated by a signal.
type Exit struct {
	Code *int
}

// Failure reports a spawn failure or an OS error after spawn.
type Failure struct {
	Err error
}

func (Output) processEvent()  {}
func (Exit) processEvent()    {}
func (Failure) processEvent() {}
