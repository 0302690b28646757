// Package atomicfile commits whole files with a write-then-rename sequence
// so that a crash, power loss, or kill at any point leaves the target path
// holding either its old content or the new content in full, never a
// truncated mix.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// renameFile is swapped in tests to fault the commit step.
var renameFile = os.Rename

// A WriteError reports a failure before the commit point. The target file is
// untouched.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// A RenameError reports a failure at the commit point. The target file is
// untouched and the temporary file has been removed on a best-effort basis.
type RenameError struct {
	Path string
	Err  error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("rename over %s: %v", e.Path, e.Err)
}

func (e *RenameError) Unwrap() error { return e.Err }

// WriteFile writes data to path atomically. The bytes go to a hidden sibling
// temporary file in the same directory as a single complete write, are
// synced, and the temporary file is renamed over the target. The rename is
// the commit point.
//
// On any failure the target keeps its previous content and the temporary
// file is cleaned up best-effort; a cleanup failure is swallowed so it can
// never mask the error being reported. WriteFile never retries.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	if err := renameFile(tmpPath, path); err != nil {
		return &RenameError{Path: path, Err: err}
	}
	committed = true

	syncDir(dir)
	return nil
}
