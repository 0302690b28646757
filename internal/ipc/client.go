package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mirrorshard/internal/epub"
	"mirrorshard/internal/textenc"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with the mirrorshardd daemon.
//
// It supports automatic reconnection, request/response with timeouts, and
// event streaming for daemon-pushed notifications. All methods are safe
// for concurrent use.
type IPCClient struct {
	mu         sync.RWMutex
	conn       net.Conn
	socketPath string
	sessionID  string
	version    string

	// Connection state
	connected    atomic.Bool
	reconnecting atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	// Event handling
	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	// Reconnection
	autoReconnect bool
	reconnectWait time.Duration
	maxReconnect  int

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Configuration
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "mirrorshardctl",
		ClientVersion:  "0.1.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  true,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called when events are received
type EventHandler func(event *Event)

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &IPCClient{
		socketPath:    cfg.SocketPath,
		pending:       make(map[uint32]chan *Message),
		eventChan:     make(chan *Event, 100),
		autoReconnect: cfg.AutoReconnect,
		reconnectWait: cfg.ReconnectWait,
		maxReconnect:  cfg.MaxReconnect,
		ctx:           ctx,
		cancel:        cancel,
		config:        cfg,
	}
}

// Connect establishes a connection to the daemon
func (c *IPCClient) Connect() error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	conn, err := dialDaemon(c.socketPath, c.config.ConnectTimeout)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrDaemonNotRunning) {
			return err
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// The handshake is a request, and requests take c.mu themselves, so
	// the lock must be released before it runs.
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	// Wait for reader to finish
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	close(c.eventChan)
	return nil
}

// close closes the connection without signaling shutdown
func (c *IPCClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version reported during the handshake
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetEventHandler sets the handler for streamed events
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the event channel for streaming events
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *IPCClient) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &DaemonError{Code: errResp.Code, Message: errResp.Message}
	}
	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %d", resp.Header.Type)
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.mu.Unlock()

	return nil
}

// request sends a request and waits for a response
func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

// requestWithTimeout sends a request with a custom timeout
func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	// Encode payload
	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	// Create message
	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	// Create response channel
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	// Send message
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.handleConnectionError(err)
		return nil, fmt.Errorf("write message: %w", err)
	}

	// Wait for response
	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// call sends a request and decodes the response into result. A MsgError
// response is returned as a *DaemonError. Pass a nil result to discard
// the response payload.
func (c *IPCClient) call(msgType MessageType, payload, result any) error {
	return c.callWithTimeout(msgType, payload, result, c.config.RequestTimeout)
}

// callWithTimeout is call with a custom timeout for slow operations
func (c *IPCClient) callWithTimeout(msgType MessageType, payload, result any, timeout time.Duration) error {
	resp, err := c.requestWithTimeout(msgType, payload, timeout)
	if err != nil {
		return err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &DaemonError{Code: errResp.Code, Message: errResp.Message}
	}

	if result == nil {
		return nil
	}
	return Decode(resp.Payload, result)
}

// readLoop reads messages from the connection
func (c *IPCClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			if c.autoReconnect {
				c.tryReconnect()
				continue
			}
			return
		}

		// Read message
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			// Handle timeout (send ping)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}

			c.handleConnectionError(err)
			if c.autoReconnect {
				c.tryReconnect()
				continue
			}
			return
		}

		// Handle message
		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Ping response, ignore

	case MsgPing:
		// Respond to ping
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			pong.Write(conn)
		}

	case MsgEvent:
		// Dispatch event
		var event Event
		if err := Decode(msg.Payload, &event); err == nil {
			select {
			case c.eventChan <- &event:
			default:
				// Channel full, drop event
			}

			c.eventMu.RLock()
			handler := c.eventHandler
			c.eventMu.RUnlock()
			if handler != nil {
				go handler(&event)
			}
		}

	default:
		// Response to a request
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// sendPing sends a ping to keep connection alive
func (c *IPCClient) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		msg.Write(conn)
	}
}

// handleConnectionError handles connection errors
func (c *IPCClient) handleConnectionError(err error) {
	c.close()
}

// tryReconnect attempts to reconnect to the daemon
func (c *IPCClient) tryReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.maxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectWait):
		}

		if err := c.Connect(); err == nil {
			return
		}
	}
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Status requests the daemon status
func (c *IPCClient) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MsgStatusRequest, &StatusRequest{}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// OpenDocument opens a document, transcoding it to UTF-8
func (c *IPCClient) OpenDocument(path string, watch bool) (*OpenDocumentResponse, error) {
	req := &OpenDocumentRequest{Path: path, Watch: watch}

	var result OpenDocumentResponse
	if err := c.call(MsgOpenDocument, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SaveDocument saves document content in the given encoding
func (c *IPCClient) SaveDocument(path, content string, encoding textenc.Encoding) (*SaveDocumentResponse, error) {
	req := &SaveDocumentRequest{Path: path, Content: content, Encoding: encoding}

	var result SaveDocumentResponse
	if err := c.call(MsgSaveDocument, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseDocument tells the daemon a document is no longer open
func (c *IPCClient) CloseDocument(path string) error {
	return c.call(MsgCloseDocument, &CloseDocumentRequest{Path: path}, nil)
}

// ReadRaw reads a file's raw bytes without transcoding
func (c *IPCClient) ReadRaw(path string) (*ReadRawResponse, error) {
	var result ReadRawResponse
	if err := c.call(MsgReadRaw, &ReadRawRequest{Path: path}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDir lists a directory's entries
func (c *IPCClient) ListDir(path string) (*ListDirResponse, error) {
	var result ListDirResponse
	if err := c.call(MsgListDir, &ListDirRequest{Path: path}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecentFiles returns the most recently opened files
func (c *IPCClient) RecentFiles(limit int) (*RecentFilesResponse, error) {
	var result RecentFilesResponse
	if err := c.call(MsgRecentFiles, &RecentFilesRequest{Limit: limit}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWindowState returns the saved window geometry for a label
func (c *IPCClient) GetWindowState(label string) (*GetWindowStateResponse, error) {
	var result GetWindowStateResponse
	if err := c.call(MsgGetWindowState, &GetWindowStateRequest{Label: label}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetWindowState saves window geometry
func (c *IPCClient) SetWindowState(state WindowStateInfo) error {
	return c.call(MsgSetWindowState, &SetWindowStateRequest{State: state}, nil)
}

// TakePending retrieves and clears a file path forwarded by a second
// application instance
func (c *IPCClient) TakePending() (*TakePendingResponse, error) {
	var result TakePendingResponse
	if err := c.call(MsgTakePending, &TakePendingRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ForwardOpenFile asks the running daemon to open a file in the primary
// editor instance
func (c *IPCClient) ForwardOpenFile(path string) error {
	return c.call(MsgForwardOpenFile, &ForwardOpenFileRequest{Path: path}, nil)
}

// GetSettings returns editor settings. With no keys, all settings are
// returned.
func (c *IPCClient) GetSettings(keys []string) (*GetSettingsResponse, error) {
	var result GetSettingsResponse
	if err := c.call(MsgGetSettings, &GetSettingsRequest{Keys: keys}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetSettings changes one editor setting and returns the full settings
// document after the change
func (c *IPCClient) SetSettings(key string, value any) (*SetSettingsResponse, error) {
	req := &SetSettingsRequest{Key: key, Value: value}

	var result SetSettingsResponse
	if err := c.call(MsgSetSettings, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExportEpub renders a book to an EPUB file on disk
func (c *IPCClient) ExportEpub(book epub.Book, outputPath string) (*ExportEpubResponse, error) {
	req := &ExportEpubRequest{Book: book, OutputPath: outputPath}

	var result ExportEpubResponse
	if err := c.callWithTimeout(MsgExportEpub, req, &result, 2*time.Minute); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListFonts returns the font families installed on the daemon's host
func (c *IPCClient) ListFonts() (*ListFontsResponse, error) {
	var result ListFontsResponse
	if err := c.call(MsgListFonts, &ListFontsRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe subscribes to events. With no types, all events are delivered.
func (c *IPCClient) Subscribe(events []EventType) error {
	req := &SubscribeRequest{Events: events}

	var result SubscribeResponse
	if err := c.call(MsgSubscribe, req, &result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe unsubscribes from events
func (c *IPCClient) Unsubscribe() error {
	resp, err := c.request(MsgUnsubscribe, &UnsubscribeRequest{})
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgUnsubscribeResp {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Shutdown asks the daemon to stop. The connection may drop before the
// response arrives; callers should treat ErrConnectionLost as success.
func (c *IPCClient) Shutdown() (*ShutdownResponse, error) {
	var result ShutdownResponse
	if err := c.callWithTimeout(MsgShutdown, nil, &result, 5*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}
