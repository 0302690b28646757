// Package singleinstance keeps the daemon unique per user. The first
// instance claims ownership; an instance started later detects the claim,
// forwards its file argument to the owner, and exits. On Linux the claim
// is a D-Bus session-bus name with an exported OpenFile method; everywhere
// else it is a liveness-checked PID lock, with forwarding done through the
// daemon's IPC socket. Forwarded paths land in the daemon's pending-open
// mailbox either way.
package singleinstance

import (
	"errors"
	"fmt"
	"time"

	"mirrorshard/internal/ipc"
)

// ErrAlreadyRunning reports that a live instance already holds the claim.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Config locates the claim artifacts for the current user.
type Config struct {
	// LockFile is the PID lock path, normally inside the runtime
	// directory.
	LockFile string

	// SocketPath is the daemon's IPC socket. Later instances forward
	// their file argument through it when the bus route is unavailable.
	SocketPath string

	// OnOpenFile receives paths forwarded by later instances. Only the
	// bus route delivers through this hook; socket forwarding arrives
	// through the daemon's regular IPC surface.
	OnOpenFile func(path string)
}

// Guard is a held single-instance claim. Release it during shutdown.
type Guard struct {
	lock     *PIDLock
	closeBus func() error
}

// Release gives up the claim: the PID lock is removed and, when one was
// taken, the bus name is released.
func (g *Guard) Release() error {
	var firstErr error
	if g.closeBus != nil {
		if err := g.closeBus(); err != nil {
			firstErr = err
		}
	}
	if g.lock != nil {
		if err := g.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// forwardViaSocket hands path to the running daemon over its IPC socket.
// The daemon's handler puts the path in the pending-open mailbox and
// notifies event subscribers.
func forwardViaSocket(socketPath, path string, timeout time.Duration) error {
	cfg := ipc.DefaultClientConfig(socketPath)
	cfg.ClientName = "mirrorshard-second-instance"
	cfg.ConnectTimeout = timeout
	cfg.RequestTimeout = timeout
	cfg.AutoReconnect = false

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer client.Close()

	if err := client.ForwardOpenFile(path); err != nil {
		return fmt.Errorf("forward open request: %w", err)
	}
	return nil
}
