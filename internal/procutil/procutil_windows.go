//go:build windows

package procutil

import "os"

// PIDAlive reports whether pid can still be opened.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// PIDZombie is always false on Windows.
func PIDZombie(int) bool { return false }

// GroupAlive is not tracked on Windows; the runner kills the process directly.
func GroupAlive(int) bool { return false }
