package observer

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketObserver broadcasts the serialized Result to every currently
// connected websocket client. It is the sender side of the Observer
// Fan-out's websocket delivery (§2 EXPANSION); the receiving UI is out of
// scope.
type WebSocketObserver struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

// NewWebSocketObserver returns an empty broadcaster.
func NewWebSocketObserver(logger *slog.Logger) *WebSocketObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketObserver{conns: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (o *WebSocketObserver) Name() string { return "websocket" }

func (o *WebSocketObserver) Filter(Event) bool { return true }

// AddConn registers a newly-accepted websocket connection for broadcast.
func (o *WebSocketObserver) AddConn(conn *websocket.Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conns[conn] = struct{}{}
}

// RemoveConn deregisters a connection (on close or write error).
func (o *WebSocketObserver) RemoveConn(conn *websocket.Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.conns, conn)
}

func (o *WebSocketObserver) OnEvent(e Event) {
	body, err := json.Marshal(e.Doc)
	if err != nil {
		o.logger.Error("websocket observer: marshal result", "dispatch_id", e.DispatchID, "error", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for conn := range o.conns {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			o.logger.Warn("websocket observer: write failed, dropping connection",
				"dispatch_id", e.DispatchID, "error", err)
			delete(o.conns, conn)
			_ = conn.Close()
		}
	}
}
