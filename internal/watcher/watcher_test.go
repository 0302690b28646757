package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"
)

func TestFingerprintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	content := []byte("吾輩は猫である。名前はまだ無い。")

	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	sum1, size, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("fingerprint file: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if sum1 != blake2b.Sum256(content) {
		t.Error("streamed fingerprint does not match whole-buffer fingerprint")
	}

	sum2, _, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("second fingerprint: %v", err)
	}
	if sum1 != sum2 {
		t.Error("same content should produce the same fingerprint")
	}

	if err := os.WriteFile(path, []byte("different content"), 0600); err != nil {
		t.Fatalf("modify test file: %v", err)
	}
	sum3, _, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("third fingerprint: %v", err)
	}
	if sum1 == sum3 {
		t.Error("different content should produce a different fingerprint")
	}
}

func TestFingerprintFileNotFound(t *testing.T) {
	if _, _, err := FingerprintFile("/nonexistent/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestWatchRequiresExistingFile(t *testing.T) {
	dir := t.TempDir()

	w, err := New(100, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	defer w.fsWatcher.Close()

	if err := w.Watch(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error watching a missing file")
	}
	if err := w.Watch(dir); err == nil {
		t.Error("expected error watching a directory")
	}
}

func TestWatchAndUnwatch(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.txt")
	fileB := filepath.Join(dir, "b.txt")
	for _, p := range []string{fileA, fileB} {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	w, err := New(100, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	defer w.fsWatcher.Close()

	if err := w.Watch(fileA); err != nil {
		t.Fatalf("watch a.txt: %v", err)
	}
	if err := w.Watch(fileB); err != nil {
		t.Fatalf("watch b.txt: %v", err)
	}
	// Watching twice must not duplicate the registration.
	if err := w.Watch(fileA); err != nil {
		t.Fatalf("re-watch a.txt: %v", err)
	}

	docs := w.WatchedDocuments()
	if len(docs) != 2 {
		t.Fatalf("watched documents = %d, want 2", len(docs))
	}
	if docs[0] != fileA || docs[1] != fileB {
		t.Errorf("watched documents = %v, want [%s %s]", docs, fileA, fileB)
	}

	w.Unwatch(fileA)
	docs = w.WatchedDocuments()
	if len(docs) != 1 || docs[0] != fileB {
		t.Errorf("watched documents after unwatch = %v, want [%s]", docs, fileB)
	}

	// Unwatching an unknown path is a no-op.
	w.Unwatch(filepath.Join(dir, "never-watched.txt"))
}

func TestExternalChangeEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "novel.txt")
	if err := os.WriteFile(path, []byte("first draft"), 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	w, err := New(100, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	updated := []byte("second draft")
	if err := os.WriteFile(path, updated, 0600); err != nil {
		t.Fatalf("modify file: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Path != path {
			t.Errorf("event path = %s, want %s", event.Path, path)
		}
		if event.Size != int64(len(updated)) {
			t.Errorf("event size = %d, want %d", event.Size, len(updated))
		}
		if event.Fingerprint != blake2b.Sum256(updated) {
			t.Error("event fingerprint does not match new content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change event")
	}
}

func TestSelfWriteSuppressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "novel.txt")
	if err := os.WriteFile(path, []byte("first draft"), 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	var mu sync.Mutex
	known := make(map[string][32]byte)
	lookup := func(p string) ([32]byte, bool) {
		mu.Lock()
		defer mu.Unlock()
		fp, ok := known[p]
		return fp, ok
	}

	w, err := New(100, lookup)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	// Simulate the daemon's own save: record the fingerprint first, then
	// write. The resulting directory event must not surface.
	saved := []byte("saved by the daemon")
	mu.Lock()
	known[path] = blake2b.Sum256(saved)
	mu.Unlock()
	if err := os.WriteFile(path, saved, 0600); err != nil {
		t.Fatalf("simulate daemon save: %v", err)
	}

	select {
	case event := <-w.Events():
		t.Fatalf("self-write produced an event: %+v", event)
	case <-time.After(700 * time.Millisecond):
	}

	// An external edit with a different fingerprint must still surface.
	external := []byte("edited in another program")
	if err := os.WriteFile(path, external, 0600); err != nil {
		t.Fatalf("simulate external edit: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Fingerprint != blake2b.Sum256(external) {
			t.Error("event fingerprint does not match external content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for external change event")
	}
}

func TestUnrelatedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.txt")
	unrelated := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(watched, []byte("x"), 0600); err != nil {
		t.Fatalf("write watched file: %v", err)
	}

	w, err := New(100, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(watched); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	// A sibling file changing in the same directory is not an event.
	if err := os.WriteFile(unrelated, []byte("noise"), 0600); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case event := <-w.Events():
		t.Fatalf("unrelated file produced an event: %+v", event)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestDebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burst.txt")
	if err := os.WriteFile(path, []byte("v0"), 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	w, err := New(300, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatalf("watch file: %v", err)
	}

	// Rapid writes inside the debounce window collapse into one event.
	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte("v"+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Fatal("expected a single coalesced event")
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("got %d events, want 1", eventCount)
			}
			return
		}
	}
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	w, err := New(100, nil)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	if err := w.Watch(path); err != nil {
		t.Fatalf("watch file: %v", err)
	}
	if w.PendingChanges() != 0 {
		t.Errorf("pending changes = %d, want 0", w.PendingChanges())
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop watcher: %v", err)
	}
}
