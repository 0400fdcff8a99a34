//go:build !windows

package procutil

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// PIDAlive reports whether pid exists and is not a zombie.
func PIDAlive(pid int) bool {
	if pid <= 0 || PIDZombie(pid) {
		return false
	}
	return signalZero(pid)
}

// PIDZombie reports whether pid is in a zombie or dead state.
func PIDZombie(pid int) bool {
	if procFSAvailable() {
		st, ok := readProcState(pid)
		return ok && deadState(st.state)
	}
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(out))
	return state != "" && deadState(state[0])
}

// GroupAlive reports whether any live, non-zombie member of process group
// pgid remains.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	if !procFSAvailable() {
		return signalZero(-pgid)
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return signalZero(-pgid)
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		st, ok := readProcState(pid)
		if ok && st.pgrp == pgid && !deadState(st.state) {
			return true
		}
	}
	return false
}

func signalZero(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
