// Package ipc provides the server side of daemon-client communication.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server is the IPC server that manages client connections
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	socketPerm  os.FileMode
	handler     Handler
	clients     map[string]*Client
	subscribers map[string]*subscription
	version     string
	startedAt   time.Time

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxConns     int

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	// Request ID counter for server-initiated messages
	nextRequestID atomic.Uint32

	// Event channel for broadcasting
	eventChan chan *Event
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Handshaken   bool
	Version      string
	Name         string
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// subscription tracks event subscriptions
type subscription struct {
	clientID string
	all      bool
	events   map[EventType]bool
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string // Unix socket path, or named pipe path on Windows
	SocketPerm     os.FileMode
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		SocketPerm:     0600,
		Version:        "0.1.0",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 32,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.SocketPerm == 0 {
		cfg.SocketPerm = 0600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 32
	}

	return &Server{
		socketPath:   cfg.SocketPath,
		socketPerm:   cfg.SocketPerm,
		handler:      handler,
		version:      cfg.Version,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxConns:     cfg.MaxConnections,
		clients:      make(map[string]*Client),
		subscribers:  make(map[string]*subscription),
		ctx:          ctx,
		cancel:       cancel,
		eventChan:    make(chan *Event, 100),
	}, nil
}

// Start begins listening for connections
func (s *Server) Start() error {
	listener, err := listen(s.socketPath, s.socketPerm)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	// Start event broadcaster
	s.wg.Add(1)
	go s.eventBroadcaster()

	// Start accepting connections
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	// Signal shutdown
	s.cancel()

	// Close listener
	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	// Close event channel
	close(s.eventChan)

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Clean shutdown
	case <-time.After(5 * time.Second):
		// Timeout
	}

	// Remove socket file
	CleanupSocket(s.socketPath)

	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to all subscribed clients
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop event
	}
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		// Only the owning user may talk to the daemon.
		if ok, err := VerifyPeerIsCurrentUser(conn); err != nil || !ok {
			conn.Close()
			continue
		}

		// Check connection limit
		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()

		if count >= s.maxConns {
			conn.Close()
			continue
		}

		client := &Client{
			ID:           generateClientID(),
			conn:         conn,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		// Remove client on disconnect
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			// Quiet connection: ping to keep it alive.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.sendPing(client)
				continue
			}
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error())
		}

		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgPong:
		// Reply to a server keepalive, nothing to do
		return nil, nil

	case MsgHandshake:
		return s.handleHandshake(client, msg)

	case MsgSubscribe:
		return s.handleSubscribe(client, msg)

	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)

	default:
		client.mu.Lock()
		handshaken := client.Handshaken
		client.mu.Unlock()

		if !handshaken {
			return NewErrorMessage(msg.Header.RequestID, ErrCodePermissionDenied, "handshake required"), nil
		}

		if s.handler != nil {
			return s.handler.HandleMessage(s.ctx, client, msg)
		}
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "no handler"), nil
	}
}

// handleHandshake processes handshake request
func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid handshake"), nil
	}

	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported protocol version: %d", req.ProtocolVersion)), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.Handshaken = true
	client.mu.Unlock()

	resp := &HandshakeResponse{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       client.ID,
	}

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, resp)
}

// handleSubscribe processes event subscription
func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid subscribe request"), nil
		}
	}

	sub := &subscription{
		clientID: client.ID,
		events:   make(map[EventType]bool),
	}
	if len(req.Events) == 0 {
		sub.all = true
	} else {
		for _, et := range req.Events {
			sub.events[et] = true
		}
	}

	s.mu.Lock()
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	resp := &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
	}

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, resp)
}

// handleUnsubscribe processes event unsubscription
func (s *Server) handleUnsubscribe(client *Client, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()

	return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
}

// eventBroadcaster fans events out to subscribers
func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for event := range s.eventChan {
		s.mu.RLock()
		for clientID, sub := range s.subscribers {
			if sub.all || sub.events[event.Type] {
				if client, ok := s.clients[clientID]; ok {
					go s.sendEvent(client, event)
				}
			}
		}
		s.mu.RUnlock()
	}
}

// sendEvent sends an event to a client
func (s *Server) sendEvent(client *Client, event *Event) {
	payload, err := Encode(event)
	if err != nil {
		return
	}

	msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
	s.sendMessage(client, msg)
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return msg.Write(client.conn)
}

// sendPing sends a ping to keep connection alive
func (s *Server) sendPing(client *Client) {
	msg := NewMessage(MsgPing, s.nextRequestID.Add(1), nil)
	s.sendMessage(client, msg)
}

// generateClientID generates a unique client ID
func generateClientID() string {
	return fmt.Sprintf("client-%d-%d", time.Now().UnixNano(), os.Getpid())
}
