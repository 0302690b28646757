//go:build !windows

package ipc

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// dialDaemon establishes a Unix socket connection
func dialDaemon(socketPath string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: timeout,
	}

	conn, err := dialer.Dial("unix", socketPath)
	if err != nil {
		// A missing socket or a stale one nobody listens on both mean
		// the daemon is down.
		if os.IsNotExist(err) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}

	return conn, nil
}
