package ipc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mirrorshard/internal/dirlist"
	"mirrorshard/internal/document"
	"mirrorshard/internal/epub"
	"mirrorshard/internal/fonts"
	"mirrorshard/internal/mailbox"
	"mirrorshard/internal/settings"
	"mirrorshard/internal/store"
	"mirrorshard/internal/textenc"
	"mirrorshard/internal/watcher"
)

// DaemonHandler implements the Handler interface for the mirrorshardd
// daemon. It routes document, session-state, settings, and export requests
// to the services behind them.
type DaemonHandler struct {
	mu         sync.RWMutex
	version    string
	socketPath string
	startedAt  time.Time

	docs     *document.Service
	store    *store.Store
	settings *settings.Store
	mailbox  *mailbox.Mailbox
	watch    *watcher.Watcher // nil when external-change watching is disabled

	maxFileSize int64
	recentLimit int

	countersMu sync.Mutex
	counters   map[string]uint64

	// Event broadcaster (for sending events to clients)
	broadcaster func(*Event)

	// Called when a client asks the daemon to stop
	requestShutdown func()
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version     string
	SocketPath  string
	Documents   *document.Service
	Store       *store.Store
	Settings    *settings.Store
	Mailbox     *mailbox.Mailbox
	Watcher     *watcher.Watcher
	MaxFileSize int64
	RecentLimit int
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 32 * 1024 * 1024
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 20
	}
	if cfg.Documents == nil {
		cfg.Documents = document.NewService()
	}
	if cfg.Mailbox == nil {
		cfg.Mailbox = mailbox.New()
	}

	return &DaemonHandler{
		version:     cfg.Version,
		socketPath:  cfg.SocketPath,
		startedAt:   time.Now(),
		docs:        cfg.Documents,
		store:       cfg.Store,
		settings:    cfg.Settings,
		mailbox:     cfg.Mailbox,
		watch:       cfg.Watcher,
		maxFileSize: cfg.MaxFileSize,
		recentLimit: cfg.RecentLimit,
		counters:    make(map[string]uint64),
	}
}

// SetBroadcaster sets the function used to broadcast events
func (h *DaemonHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = broadcaster
}

// SetShutdownFunc sets the function invoked when a client requests shutdown
func (h *DaemonHandler) SetShutdownFunc(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requestShutdown = fn
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, client, msg)

	case MsgOpenDocument:
		return h.handleOpenDocument(ctx, client, msg)

	case MsgSaveDocument:
		return h.handleSaveDocument(ctx, client, msg)

	case MsgCloseDocument:
		return h.handleCloseDocument(ctx, client, msg)

	case MsgReadRaw:
		return h.handleReadRaw(ctx, client, msg)

	case MsgListDir:
		return h.handleListDir(ctx, client, msg)

	case MsgRecentFiles:
		return h.handleRecentFiles(ctx, client, msg)

	case MsgGetWindowState:
		return h.handleGetWindowState(ctx, client, msg)

	case MsgSetWindowState:
		return h.handleSetWindowState(ctx, client, msg)

	case MsgTakePending:
		return h.handleTakePending(ctx, client, msg)

	case MsgForwardOpenFile:
		return h.handleForwardOpenFile(ctx, client, msg)

	case MsgGetSettings:
		return h.handleGetSettings(ctx, client, msg)

	case MsgSetSettings:
		return h.handleSetSettings(ctx, client, msg)

	case MsgExportEpub:
		return h.handleExportEpub(ctx, client, msg)

	case MsgListFonts:
		return h.handleListFonts(ctx, client, msg)

	case MsgShutdown:
		return h.handleShutdown(ctx, client, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

// handleStatus handles status requests
func (h *DaemonHandler) handleStatus(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	resp := &StatusResponse{
		Version:       h.version,
		Uptime:        time.Since(h.startedAt),
		StartedAt:     h.startedAt,
		SocketPath:    h.socketPath,
		OpenDocuments: h.docs.Tracked(),
		Components:    make(map[string]string),
		Counters:      h.counterSnapshot(),
	}

	if h.store != nil {
		resp.Components["store"] = "ok"
	} else {
		resp.Components["store"] = "disabled"
	}
	if h.settings != nil {
		resp.Components["settings"] = "ok"
	} else {
		resp.Components["settings"] = "disabled"
	}
	if h.watch != nil {
		resp.Components["watcher"] = "ok"
		resp.WatchedFiles = len(h.watch.WatchedDocuments())
	} else {
		resp.Components["watcher"] = "disabled"
	}

	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

// handleOpenDocument reads and decodes a document
func (h *DaemonHandler) handleOpenDocument(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req OpenDocumentRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeNotFound, "file not found"), nil
		}
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}
	if info.IsDir() {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "path is a directory"), nil
	}
	if info.Size() > h.maxFileSize {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeTooLarge,
			fmt.Sprintf("file exceeds %d bytes", h.maxFileSize)), nil
	}

	doc, err := h.docs.Open(absPath)
	if err != nil {
		switch {
		case errors.Is(err, textenc.ErrUnsupportedEncoding):
			return NewErrorMessage(msg.Header.RequestID, ErrCodeUnsupportedEncoding, err.Error()), nil
		case errors.Is(err, os.ErrPermission):
			return NewErrorMessage(msg.Header.RequestID, ErrCodePermissionDenied, err.Error()), nil
		default:
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
		}
	}

	// Watching is best effort; an open must not fail because inotify did.
	if req.Watch && h.watch != nil {
		h.watch.Watch(absPath)
	}

	h.recordOpen(absPath, doc)
	h.count("documents_opened")

	resp := &OpenDocumentResponse{
		Path:     absPath,
		Document: doc,
	}
	return NewResponse(MsgOpenDocumentResp, msg.Header.RequestID, resp)
}

// handleSaveDocument encodes and atomically writes a document
func (h *DaemonHandler) handleSaveDocument(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req SaveDocumentRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	if err := h.docs.Save(absPath, req.Content, req.Encoding); err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return NewErrorMessage(msg.Header.RequestID, ErrCodePermissionDenied, err.Error()), nil
		default:
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
		}
	}

	fp, _ := h.docs.LastFingerprint(absPath)
	h.recordSave(absPath, req.Encoding, req.Content, fp)
	h.count("documents_saved")

	resp := &SaveDocumentResponse{
		Path:        absPath,
		Fingerprint: hex.EncodeToString(fp[:]),
	}
	return NewResponse(MsgSaveDocumentResp, msg.Header.RequestID, resp)
}

// handleCloseDocument drops daemon-side state for a document
func (h *DaemonHandler) handleCloseDocument(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req CloseDocumentRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	h.docs.Forget(absPath)
	if h.watch != nil {
		h.watch.Unwatch(absPath)
	}

	return NewMessage(MsgCloseDocumentResp, msg.Header.RequestID, nil), nil
}

// handleReadRaw reads a file without transcoding
func (h *DaemonHandler) handleReadRaw(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ReadRawRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeNotFound, "file not found"), nil
		}
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}
	if info.Size() > h.maxFileSize {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeTooLarge,
			fmt.Sprintf("file exceeds %d bytes", h.maxFileSize)), nil
	}

	data, err := h.docs.ReadRaw(absPath)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return NewErrorMessage(msg.Header.RequestID, ErrCodePermissionDenied, err.Error()), nil
		}
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}

	resp := &ReadRawResponse{
		Path: absPath,
		Data: data,
		Size: int64(len(data)),
	}
	return NewResponse(MsgReadRawResp, msg.Header.RequestID, resp)
}

// handleListDir lists a directory for the file browser
func (h *DaemonHandler) handleListDir(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ListDirRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	entries, err := dirlist.List(absPath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return NewErrorMessage(msg.Header.RequestID, ErrCodeNotFound, "directory not found"), nil
		case errors.Is(err, os.ErrPermission):
			return NewErrorMessage(msg.Header.RequestID, ErrCodePermissionDenied, err.Error()), nil
		default:
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, err.Error()), nil
		}
	}

	resp := &ListDirResponse{
		Path:    absPath,
		Entries: entries,
	}
	return NewResponse(MsgListDirResp, msg.Header.RequestID, resp)
}

// handleRecentFiles returns the recently opened list
func (h *DaemonHandler) handleRecentFiles(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req RecentFilesRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
		}
	}

	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeNotInitialized, "session store disabled"), nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = h.recentLimit
	}

	files, err := h.store.RecentFiles(limit)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}

	resp := &RecentFilesResponse{
		Files: make([]RecentFileInfo, len(files)),
	}
	for i, rf := range files {
		resp.Files[i] = RecentFileInfo{
			Path:       rf.Path,
			LastOpened: time.Unix(0, rf.LastOpenedNs),
			Encoding:   rf.Encoding,
			LineEnding: rf.LineEnding,
		}
	}
	return NewResponse(MsgRecentFilesResp, msg.Header.RequestID, resp)
}

// handleGetWindowState returns saved window geometry
func (h *DaemonHandler) handleGetWindowState(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req GetWindowStateRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
		}
	}

	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeNotInitialized, "session store disabled"), nil
	}

	label := req.Label
	if label == "" {
		label = "main"
	}

	ws, err := h.store.GetWindowState(label)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}

	resp := &GetWindowStateResponse{}
	if ws != nil {
		resp.Found = true
		resp.State = &WindowStateInfo{
			Label:     ws.Label,
			X:         ws.X,
			Y:         ws.Y,
			Width:     ws.Width,
			Height:    ws.Height,
			Maximized: ws.Maximized,
		}
	}
	return NewResponse(MsgGetWindowStateResp, msg.Header.RequestID, resp)
}

// handleSetWindowState saves window geometry
func (h *DaemonHandler) handleSetWindowState(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req SetWindowStateRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}

	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeNotInitialized, "session store disabled"), nil
	}

	label := req.State.Label
	if label == "" {
		label = "main"
	}

	ws := &store.WindowState{
		Label:     label,
		X:         req.State.X,
		Y:         req.State.Y,
		Width:     req.State.Width,
		Height:    req.State.Height,
		Maximized: req.State.Maximized,
		UpdatedNs: time.Now().UnixNano(),
	}
	if err := h.store.SetWindowState(ws); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}

	return NewMessage(MsgSetWindowStateResp, msg.Header.RequestID, nil), nil
}

// handleTakePending hands over a forwarded open-file path, consuming it
func (h *DaemonHandler) handleTakePending(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	path, found := h.mailbox.Take()

	resp := &TakePendingResponse{
		Path:  path,
		Found: found,
	}
	return NewResponse(MsgTakePendingResp, msg.Header.RequestID, resp)
}

// handleForwardOpenFile accepts a path from a second application instance
func (h *DaemonHandler) handleForwardOpenFile(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ForwardOpenFileRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}
	if req.Path == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "empty path"), nil
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid path"), nil
	}

	h.mailbox.Put(absPath)
	h.count("open_requests_forwarded")

	h.broadcast(&Event{
		Type:      EventOpenFileRequest,
		Timestamp: time.Now(),
		Data:      OpenFileRequestEvent{Path: absPath},
	})

	return NewMessage(MsgForwardOpenFileResp, msg.Header.RequestID, nil), nil
}

// handleGetSettings returns preference values
func (h *DaemonHandler) handleGetSettings(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req GetSettingsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
		}
	}

	if h.settings == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeNotInitialized, "settings store disabled"), nil
	}

	var values map[string]any
	if len(req.Keys) == 0 {
		values = h.settings.All()
	} else {
		values = make(map[string]any, len(req.Keys))
		for _, key := range req.Keys {
			if v, ok := h.settings.Get(key); ok {
				values[key] = v
			}
		}
	}

	resp := &GetSettingsResponse{Settings: values}
	return NewResponse(MsgGetSettingsResp, msg.Header.RequestID, resp)
}

// handleSetSettings validates and applies one preference change
func (h *DaemonHandler) handleSetSettings(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req SetSettingsRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}
	if req.Key == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "empty key"), nil
	}

	if h.settings == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeNotInitialized, "settings store disabled"), nil
	}

	// The settings-changed event is broadcast by the daemon's OnChange
	// hook, not here, so file-driven changes produce the same event.
	if err := h.settings.Set(req.Key, req.Value); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, err.Error()), nil
	}

	resp := &SetSettingsResponse{Settings: h.settings.All()}
	return NewResponse(MsgSetSettingsResp, msg.Header.RequestID, resp)
}

// handleExportEpub renders a book to an EPUB file
func (h *DaemonHandler) handleExportEpub(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ExportEpubRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid request"), nil
	}
	if req.OutputPath == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "empty output path"), nil
	}

	absPath, err := filepath.Abs(req.OutputPath)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "invalid output path"), nil
	}

	if err := epub.Export(req.Book, absPath); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternalError, err.Error()), nil
	}

	h.count("epub_exports")

	resp := &ExportEpubResponse{Path: absPath}
	return NewResponse(MsgExportEpubResp, msg.Header.RequestID, resp)
}

// handleListFonts returns the host's installed font families
func (h *DaemonHandler) handleListFonts(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	resp := &ListFontsResponse{Families: fonts.Families()}
	return NewResponse(MsgListFontsResp, msg.Header.RequestID, resp)
}

// handleShutdown acknowledges, then asks the daemon to stop
func (h *DaemonHandler) handleShutdown(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	h.mu.RLock()
	requestShutdown := h.requestShutdown
	h.mu.RUnlock()

	if requestShutdown == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "shutdown not supported"), nil
	}

	// Respond before stopping so the client sees the acknowledgment.
	go requestShutdown()

	resp := &ShutdownResponse{Stopping: true}
	return NewResponse(MsgShutdownResp, msg.Header.RequestID, resp)
}

// recordOpen persists recent-file and document metadata after an open
func (h *DaemonHandler) recordOpen(absPath string, doc textenc.Document) {
	if h.store == nil {
		return
	}

	now := time.Now().UnixNano()
	rf := &store.RecentFile{
		Path:         absPath,
		LastOpenedNs: now,
		Encoding:     doc.Encoding.String(),
		LineEnding:   doc.LineEnding.String(),
	}
	if err := h.store.UpsertRecentFile(rf); err != nil {
		return
	}
	h.store.PruneRecentFiles(h.recentLimit)

	if fp, ok := h.docs.LastFingerprint(absPath); ok {
		h.store.UpsertDocumentMeta(&store.DocumentMeta{
			Path:        absPath,
			Fingerprint: fp,
			Encoding:    doc.Encoding.String(),
			LineEnding:  doc.LineEnding.String(),
			UpdatedNs:   now,
		})
	}
}

// recordSave persists document metadata after a save
func (h *DaemonHandler) recordSave(absPath string, enc textenc.Encoding, content string, fp [32]byte) {
	if h.store == nil {
		return
	}

	h.store.UpsertDocumentMeta(&store.DocumentMeta{
		Path:        absPath,
		Fingerprint: fp,
		Encoding:    enc.String(),
		LineEnding:  textenc.DetectLineEnding(content).String(),
		UpdatedNs:   time.Now().UnixNano(),
	})
}

// count increments a named statistic
func (h *DaemonHandler) count(name string) {
	h.countersMu.Lock()
	h.counters[name]++
	h.countersMu.Unlock()
}

// counterSnapshot copies the statistics map
func (h *DaemonHandler) counterSnapshot() map[string]uint64 {
	h.countersMu.Lock()
	defer h.countersMu.Unlock()

	out := make(map[string]uint64, len(h.counters))
	for k, v := range h.counters {
		out[k] = v
	}
	return out
}

// broadcast sends an event to all subscribers
func (h *DaemonHandler) broadcast(event *Event) {
	h.mu.RLock()
	broadcaster := h.broadcaster
	h.mu.RUnlock()

	if broadcaster != nil {
		broadcaster(event)
	}
}
