// Package dirlist lists directory contents for the editor's file browser.
package dirlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry describes one directory member.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// List returns the entries of dir sorted by name, skipping names that start
// with a dot. Read failures carry the native filesystem error.
func List(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Entry{
			Name:  e.Name(),
			Path:  filepath.Join(dir, e.Name()),
			IsDir: e.IsDir(),
		})
	}
	return out, nil
}
