//go:build !windows

package main

import "syscall"

// getDaemonSysProcAttr detaches the background daemon from the terminal
// session that spawned it.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
