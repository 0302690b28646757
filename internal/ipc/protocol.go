// Package ipc provides inter-process communication between the mirrorshardd
// daemon and client applications (the editor UI, the control CLI).
//
// The protocol is a length-prefixed frame format over a local socket:
// request/response for commands, server-push for events, JSON payloads,
// and a versioned header for compatibility.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"mirrorshard/internal/dirlist"
	"mirrorshard/internal/epub"
	"mirrorshard/internal/textenc"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4D534950 // "MSIP" - MirrorShard IPC
)

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006
	MsgShutdownResp MessageType = 0x0007

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Document operations (0x02xx)
	MsgOpenDocument      MessageType = 0x0200
	MsgOpenDocumentResp  MessageType = 0x0201
	MsgSaveDocument      MessageType = 0x0202
	MsgSaveDocumentResp  MessageType = 0x0203
	MsgReadRaw           MessageType = 0x0204
	MsgReadRawResp       MessageType = 0x0205
	MsgListDir           MessageType = 0x0206
	MsgListDirResp       MessageType = 0x0207
	MsgCloseDocument     MessageType = 0x0208
	MsgCloseDocumentResp MessageType = 0x0209

	// Session state (0x03xx)
	MsgRecentFiles         MessageType = 0x0300
	MsgRecentFilesResp     MessageType = 0x0301
	MsgGetWindowState      MessageType = 0x0302
	MsgGetWindowStateResp  MessageType = 0x0303
	MsgSetWindowState      MessageType = 0x0304
	MsgSetWindowStateResp  MessageType = 0x0305
	MsgTakePending         MessageType = 0x0306
	MsgTakePendingResp     MessageType = 0x0307
	MsgForwardOpenFile     MessageType = 0x0308
	MsgForwardOpenFileResp MessageType = 0x0309

	// Settings (0x04xx)
	MsgGetSettings     MessageType = 0x0400
	MsgGetSettingsResp MessageType = 0x0401
	MsgSetSettings     MessageType = 0x0402
	MsgSetSettingsResp MessageType = 0x0403

	// Export (0x05xx)
	MsgExportEpub     MessageType = 0x0500
	MsgExportEpubResp MessageType = 0x0501
	MsgListFonts      MessageType = 0x0502
	MsgListFontsResp  MessageType = 0x0503

	// Event streaming (0x06xx)
	MsgSubscribe       MessageType = 0x0600
	MsgSubscribeResp   MessageType = 0x0601
	MsgUnsubscribe     MessageType = 0x0602
	MsgUnsubscribeResp MessageType = 0x0603
	MsgEvent           MessageType = 0x0604
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventDocumentChanged EventType = 0x0001
	EventOpenFileRequest EventType = 0x0002
	EventSettingsChanged EventType = 0x0003
	EventDaemonShutdown  EventType = 0x0004
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04 // JSON payload
)

// MaxPayloadSize caps a single frame's payload.
const MaxPayloadSize = 64 * 1024 * 1024

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate a connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge the connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeUnknown             = 1
	ErrCodeInvalidRequest      = 2
	ErrCodeNotFound            = 3
	ErrCodePermissionDenied    = 4
	ErrCodeInternalError       = 5
	ErrCodeUnsupportedEncoding = 6
	ErrCodeTooLarge            = 7
	ErrCodeNotInitialized      = 8
)

// DaemonError is an ErrorResponse surfaced through the client API.
type DaemonError struct {
	Code    int
	Message string
}

func (e *DaemonError) Error() string {
	return e.Message
}

// StatusRequest requests daemon status
type StatusRequest struct{}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version       string            `json:"version"`
	Uptime        time.Duration     `json:"uptime"`
	StartedAt     time.Time         `json:"started_at"`
	SocketPath    string            `json:"socket_path,omitempty"`
	OpenDocuments []string          `json:"open_documents,omitempty"`
	WatchedFiles  int               `json:"watched_files"`
	Components    map[string]string `json:"components,omitempty"`
	Counters      map[string]uint64 `json:"counters,omitempty"`
}

// OpenDocumentRequest asks the daemon to read and decode a file
type OpenDocumentRequest struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch,omitempty"` // register for external-change events
}

// OpenDocumentResponse carries the decoded document
type OpenDocumentResponse struct {
	Path     string           `json:"path"`
	Document textenc.Document `json:"document"`
}

// SaveDocumentRequest asks the daemon to encode and write a document
type SaveDocumentRequest struct {
	Path     string           `json:"path"`
	Content  string           `json:"content"`
	Encoding textenc.Encoding `json:"encoding"`
}

// SaveDocumentResponse acknowledges a save
type SaveDocumentResponse struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint,omitempty"` // hex of the written bytes' hash
}

// CloseDocumentRequest tells the daemon a document is no longer open
type CloseDocumentRequest struct {
	Path string `json:"path"`
}

// ReadRawRequest asks for a file's undecoded bytes
type ReadRawRequest struct {
	Path string `json:"path"`
}

// ReadRawResponse carries raw file bytes
type ReadRawResponse struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
	Size int64  `json:"size"`
}

// ListDirRequest asks for a directory listing
type ListDirRequest struct {
	Path string `json:"path"`
}

// ListDirResponse carries a directory listing
type ListDirResponse struct {
	Path    string          `json:"path"`
	Entries []dirlist.Entry `json:"entries"`
}

// RecentFilesRequest asks for the recently opened files
type RecentFilesRequest struct {
	Limit int `json:"limit,omitempty"`
}

// RecentFileInfo is one recently opened file
type RecentFileInfo struct {
	Path       string    `json:"path"`
	LastOpened time.Time `json:"last_opened"`
	Encoding   string    `json:"encoding"`
	LineEnding string    `json:"line_ending"`
}

// RecentFilesResponse carries the recent file list, newest first
type RecentFilesResponse struct {
	Files []RecentFileInfo `json:"files"`
}

// WindowStateInfo is the saved geometry for one window label
type WindowStateInfo struct {
	Label     string `json:"label"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Maximized bool   `json:"maximized"`
}

// GetWindowStateRequest asks for saved window geometry
type GetWindowStateRequest struct {
	Label string `json:"label,omitempty"` // empty means "main"
}

// GetWindowStateResponse carries saved window geometry
type GetWindowStateResponse struct {
	Found bool             `json:"found"`
	State *WindowStateInfo `json:"state,omitempty"`
}

// SetWindowStateRequest saves window geometry
type SetWindowStateRequest struct {
	State WindowStateInfo `json:"state"`
}

// TakePendingRequest asks for the pending open-file path, consuming it
type TakePendingRequest struct{}

// TakePendingResponse carries the pending open-file path, if any
type TakePendingResponse struct {
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// ForwardOpenFileRequest hands a file path from a second instance to the
// daemon's mailbox
type ForwardOpenFileRequest struct {
	Path string `json:"path"`
}

// GetSettingsRequest asks for preference values
type GetSettingsRequest struct {
	Keys []string `json:"keys,omitempty"` // empty means all
}

// GetSettingsResponse carries preference values
type GetSettingsResponse struct {
	Settings map[string]any `json:"settings"`
}

// SetSettingsRequest changes one preference
type SetSettingsRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SetSettingsResponse carries the document after the change
type SetSettingsResponse struct {
	Settings map[string]any `json:"settings"`
}

// ExportEpubRequest asks the daemon to assemble an EPUB
type ExportEpubRequest struct {
	Book       epub.Book `json:"book"`
	OutputPath string    `json:"output_path"`
}

// ExportEpubResponse acknowledges an export
type ExportEpubResponse struct {
	Path string `json:"path"`
}

// ListFontsRequest asks for the installed font families
type ListFontsRequest struct{}

// ListFontsResponse carries the installed font families, sorted
type ListFontsResponse struct {
	Families []string `json:"families"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest requests event unsubscription
type UnsubscribeRequest struct{}

// ShutdownResponse acknowledges a shutdown request
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// DocumentChangedEvent reports an external modification to an open document
type DocumentChangedEvent struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

// OpenFileRequestEvent carries a path forwarded by a second instance
type OpenFileRequestEvent struct {
	Path string `json:"path"`
}

// SettingsChangedEvent reports a preference change
type SettingsChangedEvent struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
