// Package supervisor owns the live task instances and is the single
// source of truth every viewer is synchronized with.
//
// # Command path
//
// Create, Close, CloseAll, Start, Stop and Restart are queued to one
// dispatcher goroutine and handled in arrival order. The dispatcher only
// routes: each instance has a worker goroutine that executes its own
// operations first in, first out, so a restart fully observes its stop
// before starting again while other instances proceed independently.
// Create with closeAll is the exception: the dispatcher itself waits for
// the previous generation to close before creating the new batch, so no
// command issued afterwards can observe a mix of both.
//
// Commands naming an unknown instance id are ignored without error.
//
// # Broadcast
//
// Each instance has a forwarder goroutine reading the task's event
// channel. Every event that changes viewer-visible state is applied and
// published on the bus under one mutex, and Connect takes its snapshot
// and subscribes under the same mutex. A viewer therefore receives an
// initialize payload followed by exactly the events that came after it.
//
// # Problems
//
// Whenever a matcher reports a change the registry aggregates the
// diagnostics of all live instances by owner, publishes a problems-update
// message and writes the begin/line/end report to the configured writer
// (the host's standard output by default).
package supervisor
