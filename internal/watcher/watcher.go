// Package watcher detects external modifications to open documents.
package watcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// Event reports that a watched document changed on disk outside the daemon.
type Event struct {
	Path        string
	Fingerprint [32]byte
	Size        int64
	Timestamp   time.Time
}

// Watcher monitors the directories of open documents and reports external
// modifications. Writes performed by the daemon itself are recognized by
// fingerprint and suppressed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	// lastWritten reports the fingerprint of the daemon's own most recent
	// write to a path, if it has one.
	lastWritten func(path string) ([32]byte, bool)

	// State tracking: registered documents, per-directory refcounts, and
	// modification times of paths awaiting stability.
	docs    map[string]bool
	dirs    map[string]int
	pending map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher. Changes are reported once a file has been quiet
// for debounceMs milliseconds. lastWritten may be nil; when set it is
// consulted to suppress events caused by the daemon's own saves.
func New(debounceMs int, lastWritten func(path string) ([32]byte, bool)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounceMs <= 0 {
		debounceMs = 500
	}

	w := &Watcher{
		fsWatcher:   fsWatcher,
		debounce:    time.Duration(debounceMs) * time.Millisecond,
		lastWritten: lastWritten,
		docs:        make(map[string]bool),
		dirs:        make(map[string]int),
		pending:     make(map[string]time.Time),
		events:      make(chan Event, 100),
		errors:      make(chan error, 10),
		done:        make(chan struct{}),
	}

	return w, nil
}

// Events returns the channel of change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Watch registers a document for change detection. Watching a path that is
// already registered is a no-op.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("watch %s: is a directory", absPath)
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.docs[absPath] {
		return nil
	}

	// Editors replace files by rename, so watch the parent directory
	// rather than the file itself.
	dir := filepath.Dir(absPath)
	if w.dirs[dir] == 0 {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.docs[absPath] = true

	return nil
}

// Unwatch deregisters a document. The parent directory stays watched while
// other documents in it remain registered.
func (w *Watcher) Unwatch(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if !w.docs[absPath] {
		return
	}
	delete(w.docs, absPath)
	delete(w.pending, absPath)

	dir := filepath.Dir(absPath)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		w.fsWatcher.Remove(dir)
	}
}

// Start begins the event and debounce loops.
func (w *Watcher) Start() error {
	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop shuts down the watcher. It must be called at most once.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// Rename covers editors that replace the file wholesale;
			// the moved-in replacement arrives as Create.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			name := filepath.Clean(event.Name)

			w.stateMu.Lock()
			if w.docs[name] {
				w.pending[name] = time.Now()
			}
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop periodically checks for files that have gone quiet.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// stableFile represents a file ready for fingerprinting.
type stableFile struct {
	path    string
	lastMod time.Time
}

// checkStableFiles finds files that haven't changed for the debounce
// interval. The lock is released during file I/O so eventLoop is never
// blocked behind a slow disk.
func (w *Watcher) checkStableFiles(now time.Time) {
	threshold := now.Add(-w.debounce)

	// Phase 1: collect stable files while holding the lock.
	var stableFiles []stableFile
	w.stateMu.RLock()
	for path, lastMod := range w.pending {
		if lastMod.Before(threshold) {
			stableFiles = append(stableFiles, stableFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(stableFiles) == 0 {
		return
	}

	// Phase 2: fingerprint files without holding the lock.
	type fingerprintResult struct {
		path    string
		lastMod time.Time
		sum     [32]byte
		size    int64
		err     error
	}
	results := make([]fingerprintResult, len(stableFiles))

	for i, sf := range stableFiles {
		sum, size, err := FingerprintFile(sf.path)
		results[i] = fingerprintResult{
			path:    sf.path,
			lastMod: sf.lastMod,
			sum:     sum,
			size:    size,
			err:     err,
		}
	}

	// Phase 3: re-check state under the lock and emit.
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		if r.err != nil {
			// A path that cannot be read is dropped until it changes
			// again; a deleted file would otherwise error every tick.
			delete(w.pending, r.path)
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		currentLastMod, exists := w.pending[r.path]
		if !exists {
			continue
		}
		if currentLastMod != r.lastMod {
			// Modified during fingerprinting; let it stabilize again.
			continue
		}

		// The daemon's own saves come back as directory events. A
		// fingerprint match with the last write means nothing external
		// touched the file.
		if w.lastWritten != nil {
			if fp, ok := w.lastWritten(r.path); ok && fp == r.sum {
				delete(w.pending, r.path)
				continue
			}
		}

		event := Event{
			Path:        r.path,
			Fingerprint: r.sum,
			Size:        r.size,
			Timestamp:   now,
		}

		select {
		case w.events <- event:
			delete(w.pending, r.path)
		default:
			// Channel full; the entry stays pending and is retried on
			// the next tick.
		}
	}
}

// FingerprintFile computes the BLAKE2b-256 fingerprint of a file using
// streaming, so large documents are never loaded into memory.
func FingerprintFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, 0, err
	}

	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, size, nil
}

// WatchedDocuments returns the registered document paths, sorted.
func (w *Watcher) WatchedDocuments() []string {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	paths := make([]string, 0, len(w.docs))
	for p := range w.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// PendingChanges returns the number of paths awaiting stability.
func (w *Watcher) PendingChanges() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.pending)
}
