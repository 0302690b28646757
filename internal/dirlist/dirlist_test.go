package dirlist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestListSkipsDotfiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"chapter1.txt", ".hidden", "notes.md", ".git"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// os.ReadDir returns names sorted, so the order is stable.
	wantNames := []string{"archive", "chapter1.txt", "notes.md"}
	for i, want := range wantNames {
		if entries[i].Name != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, entries[i].Name)
		}
	}

	if !entries[0].IsDir {
		t.Error("archive should be reported as a directory")
	}
	if entries[1].IsDir {
		t.Error("chapter1.txt should not be a directory")
	}

	wantPath := filepath.Join(dir, "chapter1.txt")
	if entries[1].Path != wantPath {
		t.Errorf("expected path %s, got %s", wantPath, entries[1].Path)
	}
}

func TestListEmptyDirectory(t *testing.T) {
	entries, err := List(t.TempDir())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestListMissingDirectory(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if !errors.Is(err, os.ErrNotExist) {
		// The native cause must be preserved through the wrap.
		t.Errorf("expected not-exist error, got %v", err)
	}
}
