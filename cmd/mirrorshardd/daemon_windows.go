//go:build windows

package main

import "syscall"

// getDaemonSysProcAttr keeps the background daemon from opening a
// console window.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow: true,
	}
}
