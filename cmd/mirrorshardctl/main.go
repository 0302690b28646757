// mirrorshardctl is the control CLI for mirrorshardd.
package main

import (
	"flag"
	"fmt"
	"os"

	"mirrorshard/internal/config"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "status":
		cmdIPCStatus()
	case "ping":
		cmdIPCPing()
	case "open":
		cmdIPCOpen(args)
	case "save":
		cmdIPCSave(args)
	case "raw":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: mirrorshardctl raw <file>")
			os.Exit(1)
		}
		cmdIPCRaw(args[0])
	case "close":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: mirrorshardctl close <file>")
			os.Exit(1)
		}
		cmdIPCClose(args[0])
	case "ls":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: mirrorshardctl ls <dir>")
			os.Exit(1)
		}
		cmdIPCLs(args[0])
	case "recent":
		cmdIPCRecent(args)
	case "settings":
		cmdIPCSettings(args)
	case "fonts":
		cmdIPCFonts()
	case "export-epub":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: mirrorshardctl export-epub <book.json> <out.epub>")
			os.Exit(1)
		}
		cmdIPCExportEpub(args[0], args[1])
	case "window":
		cmdIPCWindow(args)
	case "take-pending":
		cmdIPCTakePending()
	case "forward":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: mirrorshardctl forward <file>")
			os.Exit(1)
		}
		cmdIPCForward(args[0])
	case "events":
		cmdIPCEvents()
	case "shutdown":
		cmdIPCShutdown()
	case "version", "-v", "--version":
		fmt.Printf("mirrorshardctl %s\n", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `mirrorshardctl - Control utility for mirrorshardd

Usage: mirrorshardctl [options] <command> [args]

Commands:
  status                     Show daemon status
  ping                       Measure daemon round-trip latency
  open [-watch] <file>       Open a document and show its metadata
  save [-encoding e] <file>  Save stdin to a file through the daemon
  raw <file>                 Print a file's undecoded bytes
  close <file>               Drop a document from the daemon's registry
  ls <dir>                   List a directory through the daemon
  recent [-limit n]          Show recently opened files
  settings get [key ...]     Show settings
  settings set <key> <json>  Change one setting
  fonts                      List font families installed on this host
  export-epub <book.json> <out.epub>
                             Export a book manifest as an EPUB
  window get <label>         Show saved window geometry
  window set <label> <x> <y> <w> <h>
                             Save window geometry
  take-pending               Consume a pending open-file request
  forward <file>             Forward an open-file request to the daemon
  events                     Subscribe to daemon events and print them
  shutdown                   Ask the daemon to stop
  version                    Print the CLI version
  help                       Show this help message

Options:
  -config <path>  Path to config file (default: auto-discovered)`)
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
