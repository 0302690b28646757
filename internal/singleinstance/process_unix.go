//go:build !windows

package singleinstance

import (
	"os"
	"syscall"
)

// processAlive reports whether pid names a live process. Signal 0 checks
// existence without delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
