// Package store persists editor session state between daemon runs.
package store

// RecentFile is one entry in the recently opened list.
type RecentFile struct {
	Path         string
	LastOpenedNs int64
	Encoding     string
	LineEnding   string
}

// WindowState is the saved geometry for one window label.
type WindowState struct {
	Label     string
	X         int
	Y         int
	Width     int
	Height    int
	Maximized bool
	UpdatedNs int64
}

// DocumentMeta is the per-path metadata that outlives a daemon restart:
// the fingerprint of the bytes last seen on disk and the encoding the
// document is persisted in.
type DocumentMeta struct {
	Path        string
	Fingerprint [32]byte
	Encoding    string
	LineEnding  string
	UpdatedNs   int64
}
