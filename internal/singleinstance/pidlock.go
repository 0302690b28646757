package singleinstance

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDLock is a lock file holding the owner's process ID. A lock whose
// recorded owner is no longer alive is stale and gets taken over on the
// next acquire.
type PIDLock struct {
	path string
}

// NewPIDLock returns a lock at path without acquiring it.
func NewPIDLock(path string) *PIDLock {
	return &PIDLock{path: path}
}

// Path returns the lock file location.
func (l *PIDLock) Path() string {
	return l.path
}

// TryAcquire claims the lock for the current process. It returns
// ErrAlreadyRunning when a live process owns the lock, including this
// process itself.
func (l *PIDLock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	// Two rounds: the first observes a stale lock, the second claims
	// after removing it. Losing the exclusive create twice means a live
	// rival won the race.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(l.path)
				return fmt.Errorf("write lock file: %w", werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file: %w", err)
		}

		if pid, ok := l.Owner(); ok && processAlive(pid) {
			return ErrAlreadyRunning
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return ErrAlreadyRunning
}

// Owner reads the process ID recorded in the lock file. ok is false when
// the file is missing or does not hold a PID.
func (l *PIDLock) Owner() (pid int, ok bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Release removes the lock file. A missing file is not an error.
func (l *PIDLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
