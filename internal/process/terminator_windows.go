//go:build windows

package process

import (
	"os/exec"
	"strconv"

	"github.com/smazurov/biu/internal/logging"
)

// TreeKillTerminator stops a process and all its descendants with
// "taskkill /f /t". The helper runs in the background; its own outcome is
// only logged, never reported to the caller, so a stop stays
// fire-and-forget and termination is observed through the child's exit.
type TreeKillTerminator struct {
	logger logging.Logger
}

// NewTerminator returns the platform terminator.
func NewTerminator(logger logging.Logger) Terminator {
	return &TreeKillTerminator{logger: logger}
}

// Prepare is a no-op: taskkill walks the tree itself.
func (t *TreeKillTerminator) Prepare(cmd *exec.Cmd) {}

// Terminate force-kills the process tree.
func (t *TreeKillTerminator) Terminate(pid int) error {
	return t.treeKill(pid)
}

// Kill is the same as Terminate; taskkill /f is already forceful.
func (t *TreeKillTerminator) Kill(pid int) error {
	return t.treeKill(pid)
}

func (t *TreeKillTerminator) treeKill(pid int) error {
	if pid <= 0 {
		return nil
	}
	helper := exec.Command("taskkill", "/f", "/t", "/pid", strconv.Itoa(pid))
	if err := helper.Start(); err != nil {
		return err
	}
	go func() {
		err := helper.Wait()
		if t.logger != nil {
			t.logger.Debug("taskkill finished", "pid", pid, "error", err)
		}
	}()
	return nil
}
