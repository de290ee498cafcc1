//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/smazurov/biu/internal/logging"
)

// SignalTerminator signals the whole process group of the child. Children
// are started with Setpgid so shell wrappers and their descendants stop
// together.
type SignalTerminator struct {
	logger logging.Logger
}

// NewTerminator returns the platform terminator.
func NewTerminator(logger logging.Logger) Terminator {
	return &SignalTerminator{logger: logger}
}

// Prepare places the child in its own process group.
func (t *SignalTerminator) Prepare(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends SIGTERM to the process group.
func (t *SignalTerminator) Terminate(pid int) error {
	return t.signal(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (t *SignalTerminator) Kill(pid int) error {
	return t.signal(pid, syscall.SIGKILL)
}

func (t *SignalTerminator) signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// Group leader already reaped; fall back to the pid itself.
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err == nil && t.logger != nil {
		t.logger.Debug("Signalled process group", "pid", pid, "signal", sig.String())
	}
	return err
}
