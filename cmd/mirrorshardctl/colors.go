package main

import (
	"fmt"
	"os"
)

// Version is the CLI version, reported during the IPC handshake.
const Version = "0.1.0"

// colors holds the ANSI escape codes the terminal output uses.
type colors struct {
	Reset  string
	Bold   string
	Dim    string
	Red    string
	Green  string
	Yellow string
	Cyan   string
	White  string
}

// c is the active palette, empty when NO_COLOR is set or stdout is not
// a terminal.
var c = func() colors {
	if os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout) {
		return colors{}
	}
	return colors{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
		White:  "\033[37m",
	}
}()

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// printSection prints a header over the indented rows that follow it.
func printSection(title string) {
	fmt.Printf("\n%s=== %s ===%s\n\n", c.Bold, title, c.Reset)
}

// printError prints an error line to stderr.
func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError:%s %s\n", c.Bold, c.Red, c.Reset, msg)
}
