// mirrorshardd - Persistence and session daemon for the MirrorShard editor
//
// The daemon owns everything that must survive an editor crash: document
// I/O with encoding detection, the session database, user settings, EPUB
// export, and the watcher that notices files changing under an open
// editor. The desktop shell talks to it over a local socket:
//
//	mirrorshardd serve            Run the daemon in the foreground
//	mirrorshardd serve -detach    Spawn the daemon into the background
//	mirrorshardd status           Show daemon and configuration status
//	mirrorshardd init-config      Write a default configuration file
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"mirrorshard/internal/config"
	"mirrorshard/internal/ipc"
)

// Version is the daemon version reported over IPC and in crash reports.
const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		cmdServe()
	case "status":
		cmdStatus()
	case "init-config":
		cmdInitConfig()
	case "version", "-v", "--version":
		fmt.Printf("mirrorshardd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`mirrorshardd - MirrorShard editor daemon

USAGE:
    mirrorshardd <command> [options]

COMMANDS:
    serve         Run the daemon (foreground unless -detach)
    status        Show daemon and configuration status
    init-config   Write a default configuration file
    version       Print the daemon version
    help          Show this help message

SERVE OPTIONS:
    -config <path>      Configuration file (default: auto-discovered)
    -socket <path>      Override the IPC socket path
    -log-level <level>  debug, info, warn, or error
    -detach             Run in the background and return immediately

A file path may follow the options. It is handed to the editor the same
way an OS "open with" action is:

    mirrorshardd serve -detach ~/novel/chapter3.txt

The daemon keeps one instance per user. A second 'serve' forwards its
file argument to the running instance and exits.`)
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== mirrorshardd Status ===")
	fmt.Println()

	if path != "" {
		fmt.Printf("Config file: %s\n", path)
	} else {
		fmt.Println("Config file: none (built-in defaults)")
	}

	paths := config.GetDefaultPaths()
	fmt.Printf("Data dir:    %s\n", paths.DataDir)
	fmt.Printf("Socket:      %s\n", cfg.IPC.SocketPath)
	fmt.Printf("Database:    %s\n", cfg.StorePath())
	fmt.Printf("Settings:    %s\n", paths.SettingsFile)
	fmt.Println()

	client, err := probeDaemon(cfg.IPC.SocketPath)
	if err != nil {
		fmt.Println("Daemon: not running")
		return
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fmt.Printf("Daemon: unreachable (%v)\n", err)
		return
	}

	fmt.Println("Daemon: running")
	fmt.Printf("  Version:        %s\n", status.Version)
	fmt.Printf("  Uptime:         %s\n", status.Uptime.Round(time.Second))
	fmt.Printf("  Open documents: %d\n", len(status.OpenDocuments))
	fmt.Printf("  Watched files:  %d\n", status.WatchedFiles)

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s  %s\n", name+":", status.Components[name])
	}
}

func cmdInitConfig() {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "", "path to write (default: user config dir)")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		os.Exit(1)
	}

	if created {
		fmt.Printf("Wrote default configuration: %s\n", path)
	} else {
		fmt.Printf("Configuration already exists: %s\n", path)
	}
	fmt.Println()
	fmt.Printf("Socket path: %s\n", cfg.IPC.SocketPath)
	fmt.Printf("Database:    %s\n", cfg.StorePath())
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Adjust the file if the defaults do not fit")
	fmt.Println("  2. Run 'mirrorshardd serve' to start the daemon")
	fmt.Println("  3. Run 'mirrorshardd status' to check on it")
}

// probeDaemon makes one short connection attempt to a running daemon.
func probeDaemon(socketPath string) (*ipc.IPCClient, error) {
	clientCfg := ipc.DefaultClientConfig(socketPath)
	clientCfg.ClientName = "mirrorshardd"
	clientCfg.ClientVersion = Version
	clientCfg.ConnectTimeout = 2 * time.Second
	clientCfg.AutoReconnect = false

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}
