//go:build !linux

package singleinstance

import (
	"fmt"
	"path/filepath"
	"time"
)

// Claim takes single-instance ownership through the PID lock. Platforms
// without a session bus have no name to claim; forwarded paths arrive
// over the daemon's IPC socket instead.
func Claim(cfg Config) (*Guard, error) {
	lock := NewPIDLock(cfg.LockFile)
	if err := lock.TryAcquire(); err != nil {
		return nil, err
	}
	return &Guard{lock: lock}, nil
}

// Forward hands path to the owning instance over the daemon socket. The
// path is resolved against this process's working directory before it
// crosses the process boundary.
func Forward(cfg Config, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	return forwardViaSocket(cfg.SocketPath, abs, 5*time.Second)
}
