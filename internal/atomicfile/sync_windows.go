//go:build windows

package atomicfile

// Directory handles cannot be synced on Windows; rename durability is left
// to the filesystem.
func syncDir(string) {}
