//go:build windows

package procrun

import (
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// setProcessGroup starts the tool in a new process group and makes
// cancellation kill its whole process tree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	cmd.Cancel = func() error {
		if err := killTree(cmd.Process.Pid); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}

// killTree force-kills pid and every descendant still linked to it.
func killTree(pid int) error {
	return exec.Command("taskkill", killTreeArgs(pid)...).Run()
}

func killTreeArgs(pid int) []string {
	return []string{"/T", "/F", "/PID", strconv.Itoa(pid)}
}

// reapGroup repeats the tree kill for descendants that were still starting
// when Cancel ran. Children whose parent already exited are no longer linked
// to pid and cannot be found this way.
func reapGroup(pid int, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if err := killTree(pid); err != nil {
			// taskkill fails once nothing under pid is left.
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
