// Daemon assembly and the serve command.
//
// The daemon wires the document service, session store, settings store,
// and external-change watcher to the IPC server, and owns their shutdown
// order. One instance runs per user; a second serve invocation forwards
// its file argument to the first and exits.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mirrorshard/internal/config"
	"mirrorshard/internal/document"
	"mirrorshard/internal/ipc"
	"mirrorshard/internal/logging"
	"mirrorshard/internal/mailbox"
	"mirrorshard/internal/settings"
	"mirrorshard/internal/singleinstance"
	"mirrorshard/internal/store"
	"mirrorshard/internal/watcher"
)

// daemonEnvVar marks the re-executed background child so it does not
// fork again.
const daemonEnvVar = "MIRRORSHARD_DAEMON"

// Daemon bundles the persistence services behind the IPC server.
type Daemon struct {
	cfg     *config.Config
	version string

	logger   *logging.Logger
	docs     *document.Service
	store    *store.Store
	settings *settings.Store
	mbox     *mailbox.Mailbox
	watch    *watcher.Watcher // nil when disabled in config
	handler  *ipc.DaemonHandler
	server   *ipc.Server
	guard    *singleinstance.Guard

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewDaemon assembles a daemon from the configuration without starting
// anything. Start claims the single-instance lock and opens the socket.
func NewDaemon(cfg *config.Config, version string) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := newDaemonLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		version:    version,
		logger:     logger,
		docs:       document.NewService(),
		mbox:       mailbox.New(),
		shutdownCh: make(chan struct{}),
	}

	ok := false
	defer func() {
		if !ok {
			d.dispose()
		}
	}()

	st, err := store.OpenWithBusyTimeout(cfg.StorePath(), cfg.Store.BusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	d.store = st

	sets, err := settings.Open(config.GetDefaultPaths().SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	d.settings = sets

	if cfg.Watcher.Enabled {
		w, err := watcher.New(cfg.Watcher.DebounceMs, d.docs.LastFingerprint)
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		d.watch = w
	}

	d.handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:     version,
		SocketPath:  cfg.IPC.SocketPath,
		Documents:   d.docs,
		Store:       d.store,
		Settings:    d.settings,
		Mailbox:     d.mbox,
		Watcher:     d.watch,
		MaxFileSize: cfg.Documents.MaxFileSizeBytes,
		RecentLimit: cfg.Store.RecentFilesLimit,
	})

	serverCfg := ipc.DefaultServerConfig(cfg.IPC.SocketPath)
	serverCfg.Version = version
	serverCfg.SocketPerm = cfg.SocketPermissions()
	serverCfg.ReadTimeout = cfg.IPCTimeout()
	serverCfg.MaxConnections = cfg.IPC.MaxConnections

	server, err := ipc.NewServer(serverCfg, d.handler)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	d.server = server

	d.handler.SetBroadcaster(d.server.Broadcast)
	d.handler.SetShutdownFunc(d.requestShutdown)

	// The handler leaves the settings-changed event to this hook so that
	// every change, however it arrived, is announced exactly once.
	d.settings.OnChange(func(key string, value any) {
		d.server.Broadcast(&ipc.Event{
			Type:      ipc.EventSettingsChanged,
			Timestamp: time.Now(),
			Data:      ipc.SettingsChangedEvent{Key: key, Value: value},
		})
	})

	ok = true
	return d, nil
}

// Start claims the single-instance lock, then brings up the socket and
// the watcher. ErrAlreadyRunning is returned unwrapped so the caller can
// switch to forwarding.
func (d *Daemon) Start() error {
	guard, err := singleinstance.Claim(singleinstance.Config{
		LockFile:   config.GetDefaultPaths().LockFile,
		SocketPath: d.cfg.IPC.SocketPath,
		OnOpenFile: d.deliverOpenFile,
	})
	if err != nil {
		return err
	}
	d.guard = guard

	if err := d.server.Start(); err != nil {
		guard.Release()
		d.guard = nil
		return fmt.Errorf("start server: %w", err)
	}

	if d.watch != nil {
		if err := d.watch.Start(); err != nil {
			d.server.Stop()
			guard.Release()
			d.guard = nil
			return fmt.Errorf("start watcher: %w", err)
		}
		d.wg.Add(2)
		go d.pumpWatchEvents()
		go d.pumpWatchErrors()
	}

	d.logger.Info("daemon started",
		"version", d.version,
		"socket", d.server.SocketPath(),
		"watcher", d.watch != nil)
	return nil
}

// Run blocks until a signal or an IPC shutdown request, then stops the
// daemon.
func (d *Daemon) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			d.logger.Info("signal received", "signal", sig.String())
			return d.Stop()

		case <-d.shutdownCh:
			d.logger.Info("shutdown requested over IPC")
			return d.Stop()

		case <-ticker.C:
			d.logger.Debug("heartbeat",
				"clients", d.server.ClientCount(),
				"open_documents", len(d.docs.Tracked()))
		}
	}
}

// Stop shuts the daemon down in dependency order. Safe to call more
// than once.
func (d *Daemon) Stop() error {
	var firstErr error
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")

		d.server.Broadcast(&ipc.Event{
			Type:      ipc.EventDaemonShutdown,
			Timestamp: time.Now(),
		})
		// Wait a moment so the farewell reaches subscribers before the
		// socket closes.
		time.Sleep(100 * time.Millisecond)

		if d.watch != nil {
			if err := d.watch.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		d.wg.Wait()

		if err := d.server.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if d.guard != nil {
			if err := d.guard.Release(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		d.logger.Info("daemon stopped")
		d.logger.Close()
	})
	return firstErr
}

// dispose releases the resources of a daemon that never started.
func (d *Daemon) dispose() {
	if d.watch != nil {
		d.watch.Stop()
		d.watch = nil
	}
	if d.store != nil {
		d.store.Close()
		d.store = nil
	}
	if d.logger != nil {
		d.logger.Close()
	}
}

// requestShutdown is handed to the IPC handler, which calls it from a
// request goroutine.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// deliverOpenFile lands a path from a second instance, or from our own
// command line, in the mailbox and announces it to subscribers.
func (d *Daemon) deliverOpenFile(path string) {
	d.mbox.Put(path)
	d.logger.Info("open file request", "path", path)
	d.server.Broadcast(&ipc.Event{
		Type:      ipc.EventOpenFileRequest,
		Timestamp: time.Now(),
		Data:      ipc.OpenFileRequestEvent{Path: path},
	})
}

// pumpWatchEvents turns debounced watcher events into IPC broadcasts.
func (d *Daemon) pumpWatchEvents() {
	defer d.wg.Done()
	defer logging.DefaultCrashHandler().RecoverGoroutine()

	for ev := range d.watch.Events() {
		d.logger.Info("document changed on disk",
			"path", ev.Path,
			"size", ev.Size)
		d.server.Broadcast(&ipc.Event{
			Type:      ipc.EventDocumentChanged,
			Timestamp: ev.Timestamp,
			Data: ipc.DocumentChangedEvent{
				Path:        ev.Path,
				Fingerprint: hex.EncodeToString(ev.Fingerprint[:]),
				Size:        ev.Size,
			},
		})
	}
}

func (d *Daemon) pumpWatchErrors() {
	defer d.wg.Done()
	defer logging.DefaultCrashHandler().RecoverGoroutine()

	for err := range d.watch.Errors() {
		d.logger.Warn("watcher error", "error", err)
	}
}

// newDaemonLogger builds the process logger from the daemon
// configuration and installs it as the default.
func newDaemonLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	logger, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.LogFilePath(),
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
		Component:  "mirrorshardd",
	})
	if err != nil {
		return nil, err
	}

	logging.SetDefault(logger)
	logging.DefaultCrashHandler().SetVersion(Version)
	return logger, nil
}

func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	socketPath := fs.String("socket", "", "override the IPC socket path")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	detach := fs.Bool("detach", false, "run in the background")
	fs.Parse(os.Args[2:])

	fileArg := ""
	if fs.NArg() > 0 {
		abs, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving path: %v\n", err)
			os.Exit(1)
		}
		fileArg = abs
	}

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.IPC.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *detach && os.Getenv(daemonEnvVar) != "1" {
		spawnDetached(cfg)
		return
	}

	// A detached daemon has no terminal, so its log goes to the file.
	if os.Getenv(daemonEnvVar) == "1" &&
		cfg.Logging.Output != "file" && cfg.Logging.Output != "both" {
		cfg.Logging.Output = "file"
	}

	runServe(cfg, fileArg)
}

// spawnDetached re-executes serve in the background and waits for the
// daemon's socket to answer.
func spawnDetached(cfg *config.Config) {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding executable: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = getDaemonSysProcAttr()

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	// Wait a moment for the daemon to come up
	time.Sleep(500 * time.Millisecond)

	probe, err := probeDaemon(cfg.IPC.SocketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: daemon failed to start.")
		fmt.Fprintf(os.Stderr, "Check the log: %s\n", cfg.LogFilePath())
		os.Exit(1)
	}
	probe.Close()

	fmt.Println("MirrorShard daemon is running.")
	fmt.Printf("Socket: %s\n", cfg.IPC.SocketPath)
}

func runServe(cfg *config.Config, fileArg string) {
	defer func() {
		if r := recover(); r != nil {
			logging.DefaultCrashHandler().HandlePanic(r, map[string]any{"command": "serve"})
			os.Exit(2)
		}
	}()

	daemon, err := NewDaemon(cfg, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize daemon: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Start(); err != nil {
		daemon.dispose()
		if errors.Is(err, singleinstance.ErrAlreadyRunning) {
			handOff(cfg, fileArg)
			return
		}
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	if fileArg != "" {
		// A file named on our own command line takes the same route as
		// one forwarded from a second instance.
		daemon.deliverOpenFile(fileArg)
	}

	fmt.Printf("mirrorshardd %s listening on %s\n", Version, daemon.server.SocketPath())
	fmt.Println("Press Ctrl+C to stop")

	if err := daemon.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Daemon stopped.")
}

// handOff forwards our file argument to the instance that beat us to
// the lock.
func handOff(cfg *config.Config, fileArg string) {
	if fileArg == "" {
		fmt.Println("mirrorshardd is already running.")
		return
	}

	err := singleinstance.Forward(singleinstance.Config{
		LockFile:   config.GetDefaultPaths().LockFile,
		SocketPath: cfg.IPC.SocketPath,
	}, fileArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach the running daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Handed %s to the running instance.\n", fileArg)
}
