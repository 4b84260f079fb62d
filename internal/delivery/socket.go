package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/types"
)

// Message types exchanged with the page
const (
	MessageNotification      = "notification"
	MessagePermissionRequest = "permission_request"
	MessagePermissionResult  = "permission_result"
)

// SocketMessage is the JSON frame sent over the page connection
type SocketMessage struct {
	Type         string                     `json:"type"`
	ID           string                     `json:"id,omitempty"`
	Notification *interfaces.DisplayMessage `json:"notification,omitempty"`
	Permission   string                     `json:"permission,omitempty"`
}

// SocketHub holds the websocket of the open page. It is the foreground display
// surface of a web host and the channel for the browser permission dialog.
// A newer page connection replaces the older one.
type SocketHub struct {
	logger        *logger.Logger
	promptTimeout time.Duration
	upgrader      websocket.Upgrader

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bool
	nextID    atomic.Uint64
}

// NewSocketHub creates a hub. promptTimeout bounds how long a permission dialog may stay open.
func NewSocketHub(log *logger.Logger, promptTimeout time.Duration) *SocketHub {
	if promptTimeout <= 0 {
		promptTimeout = 2 * time.Minute
	}
	return &SocketHub{
		logger:        log,
		promptTimeout: promptTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[string]chan bool),
	}
}

// Connected reports whether a page is attached
func (h *SocketHub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Available implements interfaces.DisplaySurface
func (h *SocketHub) Available() bool {
	return h.Connected()
}

// Show sends a notification frame to the page
func (h *SocketHub) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	return h.send(SocketMessage{Type: MessageNotification, Notification: &msg})
}

// RequestPermission asks the page to show the browser permission dialog and
// waits for the answer. Without a page there is nothing to ask.
func (h *SocketHub) RequestPermission(ctx context.Context) (bool, error) {
	if !h.Connected() {
		return false, types.ErrPermissionUnavailable
	}

	id := fmt.Sprintf("%d", h.nextID.Add(1))
	ch := make(chan bool, 1)

	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	if err := h.send(SocketMessage{Type: MessagePermissionRequest, ID: id}); err != nil {
		return false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.promptTimeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		return false, fmt.Errorf("permission dialog: %w", waitCtx.Err())
	case granted, ok := <-ch:
		if !ok {
			return false, fmt.Errorf("page disconnected during permission dialog")
		}
		return granted, nil
	}
}

// ServeHTTP upgrades the page connection
func (h *SocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithComponent("socket_hub").WithError(err).Warn("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.conn != nil {
		_ = h.conn.Close()
		h.failAllPending()
	}
	h.conn = conn
	h.mu.Unlock()

	h.logger.WithComponent("socket_hub").Info("Page connected")
	go h.readLoop(conn)
}

// Close detaches the current page
func (h *SocketHub) Close() error {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	h.failAllPending()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (h *SocketHub) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleMessage(data)
	}

	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
		h.failAllPending()
	}
	h.mu.Unlock()
	_ = conn.Close()
	h.logger.WithComponent("socket_hub").Info("Page disconnected")
}

func (h *SocketHub) handleMessage(data []byte) {
	var msg SocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != MessagePermissionResult || msg.ID == "" {
		return
	}

	h.pendingMu.Lock()
	ch := h.pending[msg.ID]
	delete(h.pending, msg.ID)
	h.pendingMu.Unlock()
	if ch == nil {
		return
	}
	ch <- strings.EqualFold(msg.Permission, "granted")
}

func (h *SocketHub) failAllPending() {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, ch := range h.pending {
		delete(h.pending, id)
		close(ch)
	}
}

func (h *SocketHub) send(msg SocketMessage) error {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no page connected")
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}
