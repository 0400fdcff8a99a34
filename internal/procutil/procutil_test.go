//go:build !windows

package procutil

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestPIDAlive_Self(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatalf("current process should be alive")
	}
	if PIDAlive(0) || PIDAlive(-1) {
		t.Fatalf("non-positive pids are never alive")
	}
}

func TestPIDAlive_FalseAfterKillAndReap(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	if !PIDAlive(pid) {
		t.Fatalf("child should be alive")
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	if PIDAlive(pid) {
		t.Fatalf("child %d still alive after kill+wait", pid)
	}
}

func TestGroupAlive_TracksOwnGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pgid := cmd.Process.Pid
	if !GroupAlive(pgid) {
		t.Fatalf("group %d should be alive", pgid)
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	_ = cmd.Wait()
	deadline := time.Now().Add(2 * time.Second)
	for GroupAlive(pgid) {
		if time.Now().After(deadline) {
			t.Fatalf("group %d still alive after SIGKILL", pgid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
