//go:build integration

// Package integration exercises the daemon stack end to end: a real Unix
// socket, a real SQLite session store, a real fsnotify watcher, and the
// same IPC client the control CLI uses. Run with:
//
//	go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mirrorshard/internal/document"
	"mirrorshard/internal/ipc"
	"mirrorshard/internal/mailbox"
	"mirrorshard/internal/settings"
	"mirrorshard/internal/store"
	"mirrorshard/internal/watcher"
)

// ===== Test Environment Setup =====

// TestEnv assembles the daemon's component stack the same way the serve
// command does, minus the process-level pieces (single-instance lock,
// signal handling, crash reporting).
type TestEnv struct {
	T *testing.T

	TempDir      string // documents under test live here
	SocketPath   string
	StorePath    string
	SettingsPath string

	Docs     *document.Service
	Store    *store.Store
	Settings *settings.Store
	Mailbox  *mailbox.Mailbox
	Watcher  *watcher.Watcher
	Handler  *ipc.DaemonHandler
	Server   *ipc.Server

	Ctx    context.Context
	Cancel context.CancelFunc

	clients []*ipc.IPCClient
	wg      sync.WaitGroup
}

// NewTestEnv creates a new test environment with temporary directories.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	tempDir := t.TempDir()

	// The socket lives in its own short-named directory because sun_path
	// caps Unix socket paths far below what t.TempDir can produce.
	socketDir, err := os.MkdirTemp("", "msint-*")
	if err != nil {
		cancel()
		t.Fatalf("Failed to create socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(socketDir) })

	return &TestEnv{
		T:            t,
		TempDir:      tempDir,
		SocketPath:   filepath.Join(socketDir, "msd.sock"),
		StorePath:    filepath.Join(tempDir, "session.db"),
		SettingsPath: filepath.Join(tempDir, "settings.json"),
		Docs:         document.NewService(),
		Mailbox:      mailbox.New(),
		Ctx:          ctx,
		Cancel:       cancel,
	}
}

// InitStore opens the SQLite session store.
func (env *TestEnv) InitStore() {
	env.T.Helper()

	st, err := store.OpenWithBusyTimeout(env.StorePath, 5000)
	if err != nil {
		env.T.Fatalf("Failed to open session store: %v", err)
	}
	env.Store = st
}

// InitSettings opens the settings store.
func (env *TestEnv) InitSettings() {
	env.T.Helper()

	st, err := settings.Open(env.SettingsPath)
	if err != nil {
		env.T.Fatalf("Failed to open settings store: %v", err)
	}
	env.Settings = st
}

// InitWatcher creates and starts the external-modification watcher with a
// short debounce so tests settle quickly.
func (env *TestEnv) InitWatcher(debounceMs int) {
	env.T.Helper()

	w, err := watcher.New(debounceMs, env.Docs.LastFingerprint)
	if err != nil {
		env.T.Fatalf("Failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		env.T.Fatalf("Failed to start watcher: %v", err)
	}
	env.Watcher = w
}

// InitServer wires the handler, starts the IPC server, and launches the
// same event pumps the daemon runs: watcher events and settings changes
// are broadcast to subscribers.
func (env *TestEnv) InitServer() {
	env.T.Helper()

	env.Handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:     "0.1.0-test",
		SocketPath:  env.SocketPath,
		Documents:   env.Docs,
		Store:       env.Store,
		Settings:    env.Settings,
		Mailbox:     env.Mailbox,
		Watcher:     env.Watcher,
		MaxFileSize: 32 * 1024 * 1024,
		RecentLimit: 20,
	})

	serverCfg := ipc.DefaultServerConfig(env.SocketPath)
	serverCfg.Version = "0.1.0-test"

	srv, err := ipc.NewServer(serverCfg, env.Handler)
	if err != nil {
		env.T.Fatalf("Failed to create IPC server: %v", err)
	}
	env.Handler.SetBroadcaster(srv.Broadcast)

	if env.Settings != nil {
		env.Settings.OnChange(func(key string, value any) {
			srv.Broadcast(&ipc.Event{
				Type:      ipc.EventSettingsChanged,
				Timestamp: time.Now(),
				Data:      ipc.SettingsChangedEvent{Key: key, Value: value},
			})
		})
	}

	if err := srv.Start(); err != nil {
		env.T.Fatalf("Failed to start IPC server: %v", err)
	}
	env.Server = srv

	if env.Watcher != nil {
		env.wg.Add(2)
		go env.pumpWatchEvents()
		go env.pumpWatchErrors()
	}
}

// InitAll initializes every component in dependency order.
func (env *TestEnv) InitAll() {
	env.T.Helper()

	env.InitStore()
	env.InitSettings()
	env.InitWatcher(50)
	env.InitServer()
}

// NewClient connects a fresh IPC client to the test server. The client is
// closed automatically during Cleanup.
func (env *TestEnv) NewClient(name string) *ipc.IPCClient {
	env.T.Helper()

	cfg := ipc.DefaultClientConfig(env.SocketPath)
	cfg.ClientName = name
	cfg.ClientVersion = "0.1.0-test"
	cfg.ConnectTimeout = 5 * time.Second
	cfg.AutoReconnect = false

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		env.T.Fatalf("Failed to connect client %s: %v", name, err)
	}
	env.clients = append(env.clients, client)
	return client
}

// Cleanup tears the stack down in the daemon's shutdown order: clients,
// watcher, pumps, server, store.
func (env *TestEnv) Cleanup() {
	env.Cancel()

	for _, client := range env.clients {
		client.Close()
	}
	env.clients = nil

	if env.Watcher != nil {
		env.Watcher.Stop()
		env.Watcher = nil
	}
	env.wg.Wait()

	if env.Server != nil {
		env.Server.Stop()
		env.Server = nil
	}
	if env.Store != nil {
		env.Store.Close()
		env.Store = nil
	}
}

// pumpWatchEvents forwards watcher events to subscribers, as the daemon
// does. The loop ends when Cleanup stops the watcher.
func (env *TestEnv) pumpWatchEvents() {
	defer env.wg.Done()

	for ev := range env.Watcher.Events() {
		env.Server.Broadcast(&ipc.Event{
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

// pumpWatchErrors drains the watcher error channel so it never backs up.
func (env *TestEnv) pumpWatchErrors() {
	defer env.wg.Done()

	for range env.Watcher.Errors() {
	}
}

// ===== Test Data Generators =====

// CreateDocument writes a UTF-8 document into the test directory and
// returns its absolute path.
func (env *TestEnv) CreateDocument(name, content string) string {
	env.T.Helper()

	path := filepath.Join(env.TempDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		env.T.Fatalf("Failed to create document %s: %v", name, err)
	}
	return path
}

// CreateDocumentBytes writes raw bytes, for documents in legacy encodings.
func (env *TestEnv) CreateDocumentBytes(name string, data []byte) string {
	env.T.Helper()

	path := filepath.Join(env.TempDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		env.T.Fatalf("Failed to create document %s: %v", name, err)
	}
	return path
}

// ModifyDocument overwrites a document on disk, bypassing the daemon. This
// is how an external editor's change looks to the watcher.
func (env *TestEnv) ModifyDocument(path, content string) {
	env.T.Helper()

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		env.T.Fatalf("Failed to modify document %s: %v", path, err)
	}
}

// ===== Event Helpers =====

// WaitForEvent reads from an event channel until an event of the wanted
// type arrives, discarding others. It fails the test on timeout.
func WaitForEvent(t *testing.T, events <-chan *ipc.Event, want ipc.EventType, timeout time.Duration) *ipc.Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("Event channel closed while waiting for event type 0x%04x", uint16(want))
				return nil
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out after %v waiting for event type 0x%04x", timeout, uint16(want))
			return nil
		}
	}
}

// ExpectNoEvent fails the test if an event of the unwanted type arrives
// within the window.
func ExpectNoEvent(t *testing.T, events <-chan *ipc.Event, unwanted ipc.EventType, window time.Duration) {
	t.Helper()

	deadline := time.After(window)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == unwanted {
				t.Fatalf("Received event type 0x%04x within %v, expected none", uint16(unwanted), window)
			}
		case <-deadline:
			return
		}
	}
}

// DrainEvents discards whatever is already queued on an event channel, so
// a test can assert on the next event in isolation.
func DrainEvents(events <-chan *ipc.Event, window time.Duration) {
	deadline := time.After(window)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			return
		}
	}
}

// EventData returns the decoded payload of a broadcast event. Payloads
// cross the socket as JSON, so they arrive as generic maps.
func EventData(t *testing.T, ev *ipc.Event) map[string]any {
	t.Helper()

	data, ok := ev.Data.(map[string]any)
	if !ok {
		t.Fatalf("Event payload is %T, expected map[string]any", ev.Data)
	}
	return data
}

// ===== Assertion Helpers =====

func formatMsg(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", formatMsg(msg, args), err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string, args ...any) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got nil", formatMsg(msg, args))
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual[T comparable](t *testing.T, expected, actual T, msg string, args ...any) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", formatMsg(msg, args), expected, actual)
	}
}

// AssertNotEqual fails the test if expected == actual.
func AssertNotEqual[T comparable](t *testing.T, expected, actual T, msg string, args ...any) {
	t.Helper()
	if expected == actual {
		t.Fatalf("%s: expected values to differ, both are %v", formatMsg(msg, args), expected)
	}
}

// AssertTrue fails the test if the condition is false.
func AssertTrue(t *testing.T, condition bool, msg string, args ...any) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", formatMsg(msg, args))
	}
}

// AssertFalse fails the test if the condition is true.
func AssertFalse(t *testing.T, condition bool, msg string, args ...any) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", formatMsg(msg, args))
	}
}
