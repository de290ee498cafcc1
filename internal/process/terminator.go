package process

import "os/exec"

// Terminator delivers kill requests for a platform. Both methods must not
// block on the target's exit.
type Terminator interface {
	// Prepare configures the command before it is started.
	Prepare(cmd *exec.Cmd)

	// Terminate asks the process (and its children) to stop.
	Terminate(pid int) error

	// Kill forcibly ends the process tree after a stop timeout.
	Kill(pid int) error
}
