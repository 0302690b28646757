// Package main provides the IPC-backed commands for mirrorshardctl.
//
// Every command talks to the mirrorshardd daemon over its local socket;
// the daemon owns all state.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"mirrorshard/internal/config"
	"mirrorshard/internal/epub"
	"mirrorshard/internal/ipc"
	"mirrorshard/internal/singleinstance"
	"mirrorshard/internal/textenc"
)

// IPCCommands wraps an authenticated client connection.
type IPCCommands struct {
	client *ipc.IPCClient
}

// NewIPCCommands connects to the daemon named by the configuration.
func NewIPCCommands() (*IPCCommands, error) {
	cfg := loadConfig()

	clientCfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	clientCfg.ClientName = "mirrorshardctl"
	clientCfg.ClientVersion = Version

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}

	return &IPCCommands{client: client}, nil
}

// Close closes the IPC connection
func (c *IPCCommands) Close() error {
	return c.client.Close()
}

// cmdIPCStatus shows daemon status via IPC
func cmdIPCStatus() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		lock := singleinstance.NewPIDLock(config.GetDefaultPaths().LockFile)
		if pid, ok := lock.Owner(); ok {
			fmt.Fprintf(os.Stderr, "  %sNote%s: lock file names PID %d\n", c.Dim, c.Reset, pid)
		}
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: mirrorshardd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	status, err := cmds.client.Status()
	if err != nil {
		printError(fmt.Sprintf("Failed to get status: %v", err))
		os.Exit(1)
	}

	printSection("DAEMON STATUS")

	fmt.Printf("  %sVersion%s        %s%s%s\n", c.Dim, c.Reset, c.Cyan, status.Version, c.Reset)
	fmt.Printf("  %sUptime%s         %s\n", c.Dim, c.Reset, status.Uptime.Round(time.Second))
	fmt.Printf("  %sStarted%s        %s\n", c.Dim, c.Reset, status.StartedAt.Format(time.RFC3339))
	fmt.Printf("  %sSocket%s         %s\n", c.Dim, c.Reset, status.SocketPath)

	printSection("COMPONENTS")

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := status.Components[name]
		color := c.Green
		if state != "ok" {
			color = c.Yellow
		}
		fmt.Printf("  %s%-12s%s %s%s%s%s\n", c.Dim, name, c.Reset, c.Bold, color, state, c.Reset)
	}

	printSection("DOCUMENTS")

	fmt.Printf("  %sOpen%s     %d\n", c.Dim, c.Reset, len(status.OpenDocuments))
	fmt.Printf("  %sWatched%s  %d\n", c.Dim, c.Reset, status.WatchedFiles)
	for _, path := range status.OpenDocuments {
		fmt.Printf("    %s%s%s\n", c.Cyan, path, c.Reset)
	}

	if len(status.Counters) > 0 {
		printSection("COUNTERS")

		keys := make([]string, 0, len(status.Counters))
		for key := range status.Counters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("  %s%-24s%s %d\n", c.Dim, key, c.Reset, status.Counters[key])
		}
	}

	fmt.Println()
}

// cmdIPCPing pings the daemon
func cmdIPCPing() {
	cmds, err := NewIPCCommands()
	if err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	start := time.Now()
	if err := cmds.client.Ping(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RESPONDING%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		os.Exit(1)
	}
	latency := time.Since(start)

	fmt.Printf("  %sDaemon%s  %s%sRUNNING%s (latency: %s)\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset, latency.Round(time.Microsecond))
}

// cmdIPCOpen opens a document and shows its decoded metadata
func cmdIPCOpen(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	watch := fs.Bool("watch", false, "register the file for external change events")
	fs.Parse(args)
	if fs.NArg() < 1 {
		printError("Usage: mirrorshardctl open [-watch] <file>")
		os.Exit(1)
	}

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: mirrorshardd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.OpenDocument(fs.Arg(0), *watch)
	if err != nil {
		printError(fmt.Sprintf("Failed to open document: %v", err))
		os.Exit(1)
	}

	doc := resp.Document

	printSection("DOCUMENT")

	fmt.Printf("  %sPath%s         %s\n", c.Dim, c.Reset, resp.Path)
	fmt.Printf("  %sEncoding%s     %s%s%s\n", c.Dim, c.Reset, c.Cyan, doc.Encoding, c.Reset)
	fmt.Printf("  %sLine ending%s  %s\n", c.Dim, c.Reset, doc.LineEnding)
	fmt.Printf("  %sSize%s         %s\n", c.Dim, c.Reset, formatBytes(int64(len(doc.Content))))
	if *watch {
		fmt.Printf("  %sWatch%s        registered\n", c.Dim, c.Reset)
	}
	fmt.Println()
}

// cmdIPCSave saves stdin through the daemon's atomic write path
func cmdIPCSave(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	encName := fs.String("encoding", "UTF-8", "target encoding (UTF-8 or Shift_JIS)")
	fs.Parse(args)
	if fs.NArg() < 1 {
		printError("Usage: mirrorshardctl save [-encoding e] <file>")
		os.Exit(1)
	}

	enc, err := textenc.ParseEncoding(*encName)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		printError(fmt.Sprintf("Failed to read stdin: %v", err))
		os.Exit(1)
	}

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.SaveDocument(fs.Arg(0), string(content), enc)
	if err != nil {
		printError(fmt.Sprintf("Failed to save document: %v", err))
		os.Exit(1)
	}

	fmt.Printf("Saved: %s\n", resp.Path)
	if resp.Fingerprint != "" {
		fmt.Printf("  %sFingerprint%s  %s...\n", c.Dim, c.Reset, resp.Fingerprint[:16])
	}
}

// cmdIPCRaw writes a file's undecoded bytes to stdout
func cmdIPCRaw(path string) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.ReadRaw(path)
	if err != nil {
		printError(fmt.Sprintf("Failed to read file: %v", err))
		os.Exit(1)
	}

	os.Stdout.Write(resp.Data)
}

// cmdIPCClose drops a document from the daemon's registry
func cmdIPCClose(path string) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	if err := cmds.client.CloseDocument(path); err != nil {
		printError(fmt.Sprintf("Failed to close document: %v", err))
		os.Exit(1)
	}

	fmt.Printf("Closed: %s\n", path)
}

// cmdIPCLs lists a directory through the daemon
func cmdIPCLs(path string) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.ListDir(path)
	if err != nil {
		printError(fmt.Sprintf("Failed to list directory: %v", err))
		os.Exit(1)
	}

	for _, entry := range resp.Entries {
		if entry.IsDir {
			fmt.Printf("  %s%s/%s\n", c.Cyan, entry.Name, c.Reset)
		} else {
			fmt.Printf("  %s\n", entry.Name)
		}
	}
}

// cmdIPCRecent shows the recently opened files, newest first
func cmdIPCRecent(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	limit := fs.Int("limit", 0, "maximum entries (0 = daemon default)")
	fs.Parse(args)

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.RecentFiles(*limit)
	if err != nil {
		printError(fmt.Sprintf("Failed to get recent files: %v", err))
		os.Exit(1)
	}

	if len(resp.Files) == 0 {
		fmt.Printf("  %sNo recent files.%s\n", c.Dim, c.Reset)
		return
	}

	printSection("RECENT FILES")

	for _, file := range resp.Files {
		fmt.Printf("  %s%s%s\n", c.Cyan, file.Path, c.Reset)
		fmt.Printf("    %sOpened%s    %s\n", c.Dim, c.Reset, file.LastOpened.Format("2006-01-02 15:04"))
		fmt.Printf("    %sEncoding%s  %s (%s)\n", c.Dim, c.Reset, file.Encoding, file.LineEnding)
		fmt.Println()
	}
}

// cmdIPCSettings shows or changes daemon-held preferences
func cmdIPCSettings(args []string) {
	if len(args) == 0 {
		printError("Usage: mirrorshardctl settings <get|set> [args]")
		os.Exit(1)
	}

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: mirrorshardd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	action := args[0]

	switch action {
	case "get":
		resp, err := cmds.client.GetSettings(args[1:])
		if err != nil {
			printError(fmt.Sprintf("Failed to get settings: %v", err))
			os.Exit(1)
		}

		printSection("SETTINGS")

		keys := make([]string, 0, len(resp.Settings))
		for key := range resp.Settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			data, _ := json.Marshal(resp.Settings[key])
			fmt.Printf("  %s%-24s%s %s\n", c.Dim, key, c.Reset, string(data))
		}
		fmt.Println()

	case "set":
		if len(args) < 3 {
			printError("Usage: mirrorshardctl settings set <key> <value>")
			os.Exit(1)
		}
		key := args[1]

		// Bare words arrive unquoted on the command line.
		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			value = args[2]
		}

		resp, err := cmds.client.SetSettings(key, value)
		if err != nil {
			printError(fmt.Sprintf("Failed to set %s: %v", key, err))
			os.Exit(1)
		}

		data, _ := json.Marshal(resp.Settings[key])
		fmt.Printf("%s = %s\n", key, string(data))

	default:
		printError(fmt.Sprintf("Unknown settings action: %s", action))
		os.Exit(1)
	}
}

// cmdIPCFonts lists the host's installed font families
func cmdIPCFonts() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.ListFonts()
	if err != nil {
		printError(fmt.Sprintf("Failed to list fonts: %v", err))
		os.Exit(1)
	}

	if len(resp.Families) == 0 {
		fmt.Printf("  %sNo font families found.%s\n", c.Dim, c.Reset)
		return
	}

	printSection("FONT FAMILIES")

	for _, family := range resp.Families {
		fmt.Printf("  %s\n", family)
	}
	fmt.Printf("\n  %s%d families%s\n", c.Dim, len(resp.Families), c.Reset)
}

// cmdIPCExportEpub exports a book manifest as an EPUB file
func cmdIPCExportEpub(manifestPath, outputPath string) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		printError(fmt.Sprintf("Failed to read manifest: %v", err))
		os.Exit(1)
	}

	var book epub.Book
	if err := json.Unmarshal(data, &book); err != nil {
		printError(fmt.Sprintf("Invalid manifest: %v", err))
		os.Exit(1)
	}

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	fmt.Printf("Exporting...")

	resp, err := cmds.client.ExportEpub(book, outputPath)
	if err != nil {
		fmt.Println()
		printError(fmt.Sprintf("Export failed: %v", err))
		os.Exit(1)
	}

	fmt.Printf(" done\n\n")
	fmt.Printf("%s%s EPUB EXPORTED %s\n\n", c.Bold, c.Green, c.Reset)
	fmt.Printf("  %sTitle%s     %s\n", c.Dim, c.Reset, book.Title)
	fmt.Printf("  %sSections%s  %d\n", c.Dim, c.Reset, len(book.Sections))
	fmt.Printf("  %sOutput%s    %s\n", c.Dim, c.Reset, resp.Path)
	fmt.Println()
}

// cmdIPCWindow shows or saves window geometry
func cmdIPCWindow(args []string) {
	if len(args) == 0 {
		printError("Usage: mirrorshardctl window <get|set> [args]")
		os.Exit(1)
	}

	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	action := args[0]

	switch action {
	case "get":
		if len(args) < 2 {
			printError("Usage: mirrorshardctl window get <label>")
			os.Exit(1)
		}

		resp, err := cmds.client.GetWindowState(args[1])
		if err != nil {
			printError(fmt.Sprintf("Failed to get window state: %v", err))
			os.Exit(1)
		}
		if !resp.Found {
			fmt.Printf("  %sNo saved state for %q.%s\n", c.Dim, args[1], c.Reset)
			return
		}

		state := resp.State

		printSection("WINDOW STATE")

		fmt.Printf("  %sLabel%s      %s%s%s\n", c.Dim, c.Reset, c.Cyan, state.Label, c.Reset)
		fmt.Printf("  %sPosition%s   %d, %d\n", c.Dim, c.Reset, state.X, state.Y)
		fmt.Printf("  %sSize%s       %d x %d\n", c.Dim, c.Reset, state.Width, state.Height)
		fmt.Printf("  %sMaximized%s  %t\n", c.Dim, c.Reset, state.Maximized)
		fmt.Println()

	case "set":
		if len(args) < 6 {
			printError("Usage: mirrorshardctl window set <label> <x> <y> <w> <h>")
			os.Exit(1)
		}

		nums := make([]int, 4)
		for i, arg := range args[2:6] {
			n, err := strconv.Atoi(arg)
			if err != nil {
				printError(fmt.Sprintf("Invalid number %q", arg))
				os.Exit(1)
			}
			nums[i] = n
		}

		err := cmds.client.SetWindowState(ipc.WindowStateInfo{
			Label:  args[1],
			X:      nums[0],
			Y:      nums[1],
			Width:  nums[2],
			Height: nums[3],
		})
		if err != nil {
			printError(fmt.Sprintf("Failed to save window state: %v", err))
			os.Exit(1)
		}

		fmt.Printf("Saved window state for %q.\n", args[1])

	default:
		printError(fmt.Sprintf("Unknown window action: %s", action))
		os.Exit(1)
	}
}

// cmdIPCTakePending consumes the pending open-file request, if any
func cmdIPCTakePending() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.TakePending()
	if err != nil {
		printError(fmt.Sprintf("Failed to take pending request: %v", err))
		os.Exit(1)
	}

	if !resp.Found {
		fmt.Printf("  %sNo pending open request.%s\n", c.Dim, c.Reset)
		return
	}

	fmt.Println(resp.Path)
}

// cmdIPCForward hands an open-file request to the daemon's mailbox
func cmdIPCForward(path string) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	if err := cmds.client.ForwardOpenFile(path); err != nil {
		printError(fmt.Sprintf("Failed to forward: %v", err))
		os.Exit(1)
	}

	fmt.Printf("Forwarded: %s\n", path)
}

// cmdIPCEvents subscribes to all events and prints them
func cmdIPCEvents() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: mirrorshardd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	if err := cmds.client.Subscribe(nil); err != nil {
		printError(fmt.Sprintf("Failed to subscribe: %v", err))
		os.Exit(1)
	}

	fmt.Printf("%s%s SUBSCRIBED TO EVENTS %s\n\n", c.Bold, c.Green, c.Reset)
	fmt.Println("Waiting for events... Press Ctrl+C to stop")
	fmt.Println()

	for event := range cmds.client.Events() {
		data, _ := json.MarshalIndent(event, "", "  ")
		fmt.Printf("[%s] %s\n%s\n\n",
			event.Timestamp.Format("15:04:05"),
			eventTypeName(event.Type),
			string(data))
	}
}

// eventTypeName returns a human-readable event type name
func eventTypeName(et ipc.EventType) string {
	switch et {
	case ipc.EventDocumentChanged:
		return "DocumentChanged"
	case ipc.EventOpenFileRequest:
		return "OpenFileRequest"
	case ipc.EventSettingsChanged:
		return "SettingsChanged"
	case ipc.EventDaemonShutdown:
		return "DaemonShutdown"
	default:
		return fmt.Sprintf("Unknown(%d)", et)
	}
}

// cmdIPCShutdown asks the daemon to stop
func cmdIPCShutdown() {
	cmds, err := NewIPCCommands()
	if err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Println("Daemon is not running.")
			return
		}
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	// The daemon may drop the connection right after acknowledging.
	resp, err := cmds.client.Shutdown()
	if err != nil && !errors.Is(err, ipc.ErrConnectionLost) {
		printError(fmt.Sprintf("Failed to stop daemon: %v", err))
		os.Exit(1)
	}
	if resp != nil && !resp.Stopping {
		printError("Daemon refused to stop.")
		os.Exit(1)
	}

	fmt.Println("Daemon is stopping.")
}
