//go:build !windows

package procrun

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/danshapiro/topazbridge/internal/procutil"
)

// setProcessGroup runs the child in its own process group so cancellation
// kills the tool together with anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
}

func killGroup(pgid int) error {
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// reapGroup waits for every member of pgid to exit, re-sending SIGKILL to
// stragglers. It reports whether the group is gone.
func reapGroup(pgid int, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for procutil.GroupAlive(pgid) {
		if time.Now().After(deadline) {
			return false
		}
		_ = killGroup(pgid)
		time.Sleep(25 * time.Millisecond)
	}
	return true
}
