// Package procutil inspects processes and process groups. It is used to
// confirm that a killed tool invocation left nothing behind.
package procutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procState is the parsed subset of /proc/<pid>/stat.
type procState struct {
	state byte
	pgrp  int
}

func procFSAvailable() bool {
	_, err := os.Stat("/proc/self/stat")
	return err == nil
}

func readProcState(pid int) (procState, bool) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return procState{}, false
	}
	line := string(b)
	// The command name may contain spaces and parens; fields resume after
	// the last ')'.
	closeIdx := strings.LastIndexByte(line, ')')
	if closeIdx < 0 || closeIdx+2 >= len(line) {
		return procState{}, false
	}
	fields := strings.Fields(line[closeIdx+2:])
	if len(fields) < 3 {
		return procState{}, false
	}
	pgrp, err := strconv.Atoi(fields[2])
	if err != nil {
		return procState{}, false
	}
	return procState{state: fields[0][0], pgrp: pgrp}, true
}

func deadState(c byte) bool { return c == 'Z' || c == 'X' }
