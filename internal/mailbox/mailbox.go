// Package mailbox provides the single-slot hand-off cell for "open this
// file" requests that cross process-lifecycle seams: a path passed on the
// command line before any client subscribed, or one forwarded by a second
// instance. The slot is explicit state with take-once delivery, never an
// ambient global.
package mailbox

import "sync"

// Mailbox holds at most one pending path. Put replaces an undelivered
// value; Take delivers a value at most once. Safe for concurrent use.
type Mailbox struct {
	mu   sync.Mutex
	path string
	full bool
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

// Put stores path, replacing any value that was not yet taken.
func (m *Mailbox) Put(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
	m.full = true
}

// Take removes and returns the pending path. The second return is false
// when the slot is empty, including immediately after a previous Take.
func (m *Mailbox) Take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return "", false
	}
	path := m.path
	m.path = ""
	m.full = false
	return path, true
}
