package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// Live feed message types.
const (
	MessageResult = "result"
	MessageCycle  = "cycle"
)

const (
	feedBuffer       = 64
	feedWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// FeedMessage is one frame on the live feed.
type FeedMessage struct {
	Type    string              `json:"type"`
	Result  *types.ProbeResult  `json:"result,omitempty"`
	Outcome *types.CycleOutcome `json:"outcome,omitempty"`
}

// WebSocketServer pushes probe results and cycle outcomes to connected
// clients as they happen. It is both a report sink and a journal.
type WebSocketServer struct {
	logger *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan FeedMessage
	dropped   int
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan FeedMessage, feedBuffer),
	}
}

// Name implements report.Sink.
func (ws *WebSocketServer) Name() string { return "websocket" }

// Report queues a confirmed result for broadcast.
func (ws *WebSocketServer) Report(_ context.Context, r types.ProbeResult) error {
	ws.enqueue(FeedMessage{Type: MessageResult, Result: &r})
	return nil
}

// RecordCycle queues a cycle outcome for broadcast.
func (ws *WebSocketServer) RecordCycle(_ context.Context, o types.CycleOutcome) error {
	ws.enqueue(FeedMessage{Type: MessageCycle, Outcome: &o})
	return nil
}

// enqueue never blocks the engine: a slow feed loses messages.
func (ws *WebSocketServer) enqueue(msg FeedMessage) {
	select {
	case ws.broadcast <- msg:
	default:
		ws.clientsMu.Lock()
		ws.dropped++
		ws.clientsMu.Unlock()
		ws.logger.Debug("live feed buffer full, dropping message", slog.String("type", msg.Type))
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// The feed is one-way; reads only detect disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Run broadcasts queued messages until ctx is done, then closes all clients.
func (ws *WebSocketServer) Run(ctx context.Context) error {
	defer ws.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ws.broadcast:
			ws.send(msg)
		}
	}
}

func (ws *WebSocketServer) send(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		ws.logger.Error("Failed to marshal feed message", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// The read loop removes the client.
			ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

func (ws *WebSocketServer) closeAll() {
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	for conn := range ws.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]bool)
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}

// Dropped returns how many messages were lost to a full buffer.
func (ws *WebSocketServer) Dropped() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return ws.dropped
}
