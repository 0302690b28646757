//go:build !windows

package atomicfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncDir flushes the directory entry so the committed rename survives power
// loss. The commit has already happened, so failures here are ignored.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = unix.Fsync(int(f.Fd()))
}
