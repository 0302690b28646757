//go:build linux

package singleinstance

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
)

// D-Bus identity of the owning daemon instance.
const (
	// BusName is the well-known session-bus name the first instance owns.
	BusName = "com.mirrorshard.Daemon1"

	busInterface  = "com.mirrorshard.Daemon1"
	busObjectPath = "/com/mirrorshard/Daemon1"
)

// Claim takes single-instance ownership: the PID lock first, then the
// session-bus name. A missing session bus is tolerated; the lock alone
// still guards against double starts, and forwarding falls back to the
// daemon socket.
func Claim(cfg Config) (*Guard, error) {
	lock := NewPIDLock(cfg.LockFile)
	if err := lock.TryAcquire(); err != nil {
		return nil, err
	}

	closeBus, err := claimBusName(cfg.OnOpenFile)
	if err != nil {
		lock.Release()
		return nil, err
	}

	return &Guard{lock: lock, closeBus: closeBus}, nil
}

// claimBusName requests the well-known name and exports the OpenFile
// object on a private connection, so releasing the claim cannot disturb
// the process-wide shared bus connection. The closer is nil when no
// session bus is reachable.
func claimBusName(onOpenFile func(string)) (func() error, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		// Headless session: nothing to claim.
		return nil, nil
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, nil
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, nil
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrAlreadyRunning
	}

	if err := conn.Export(&daemonObject{onOpenFile: onOpenFile}, busObjectPath, busInterface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export bus object: %w", err)
	}

	return func() error {
		if _, err := conn.ReleaseName(BusName); err != nil {
			conn.Close()
			return fmt.Errorf("release bus name: %w", err)
		}
		return conn.Close()
	}, nil
}

// daemonObject is the exported D-Bus object a later instance calls to
// hand its file argument to the owner.
type daemonObject struct {
	onOpenFile func(string)
}

// OpenFile delivers a forwarded path to the owning instance.
func (o *daemonObject) OpenFile(path string) *dbus.Error {
	if path == "" {
		return dbus.NewError(busInterface+".Error.EmptyPath",
			[]any{"path must not be empty"})
	}
	if o.onOpenFile != nil {
		o.onOpenFile(path)
	}
	return nil
}

// Forward hands path to the owning instance, preferring the bus route
// and falling back to the daemon socket. The path is resolved against
// this process's working directory before it crosses the process
// boundary.
func Forward(cfg Config, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := forwardViaBus(abs); err == nil {
		return nil
	}
	return forwardViaSocket(cfg.SocketPath, abs, 5*time.Second)
}

// forwardViaBus calls OpenFile on the owner through the session bus.
func forwardViaBus(path string) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	call := conn.Object(BusName, busObjectPath).Call(busInterface+".OpenFile", 0, path)
	if call.Err != nil {
		return fmt.Errorf("call OpenFile: %w", call.Err)
	}
	return nil
}
