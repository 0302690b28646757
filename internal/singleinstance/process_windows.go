//go:build windows

package singleinstance

import "os"

// processAlive reports whether pid names a live process. FindProcess
// opens a real handle on Windows, so an error means the process is gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
