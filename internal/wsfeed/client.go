// Package wsfeed reads slot updates from the Solana pubsub websocket
// (slotsUpdatesSubscribe) and presents them as a geyser stream.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/pingthing/internal/geyser"
)

// Config configures the websocket feed.
type Config struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outgoing frame.
	WriteTimeout time.Duration
}

// DefaultConfig returns default websocket configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Client dials one websocket connection per Subscribe.
type Client struct {
	endpoint string
	config   Config
}

var _ geyser.Subscriber = (*Client)(nil)

// New creates a Client for endpoint (ws:// or wss://).
func New(endpoint string, config *Config) *Client {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	return &Client{endpoint: endpoint, config: cfg}
}

// Subscribe dials the endpoint. The returned stream issues
// slotsUpdatesSubscribe on its first Send and is closed when ctx ends.
func (c *Client) Subscribe(ctx context.Context) (geyser.Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &slotStream{
		conn:         conn,
		writeTimeout: c.config.WriteTimeout,
		done:         make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.CloseSend()
		case <-s.done:
		}
	}()
	return s, nil
}

type slotStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	requestID    atomic.Uint64
	subscribed   atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Send subscribes once. Filter contents and pings have no websocket
// equivalent and are ignored.
func (s *slotStream) Send(_ *geyser.SubscribeRequest) error {
	if s.subscribed.Load() {
		return nil
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "slotsUpdatesSubscribe",
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	s.subscribed.Store(true)
	return nil
}

// Recv blocks for the next slot notification. Subscription confirmations and
// slot update types without a geyser equivalent are skipped.
func (s *slotStream) Recv() (*geyser.Update, error) {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var notif wsNotification
		if err := json.Unmarshal(message, &notif); err != nil {
			return nil, fmt.Errorf("%w: %v", geyser.ErrDecode, err)
		}
		if notif.Error != nil {
			return nil, fmt.Errorf("slotsUpdatesSubscribe: %d %s", notif.Error.Code, notif.Error.Message)
		}
		if notif.Method != "slotsUpdatesNotification" || notif.Params == nil {
			continue
		}

		value := notif.Params.Result
		status, ok := slotStatuses[value.Type]
		if !ok {
			continue
		}

		return &geyser.Update{Slot: &geyser.SlotUpdate{
			Slot:      value.Slot,
			Parent:    value.Parent,
			Status:    status,
			DeadError: value.Err,
		}}, nil
	}
}

// CloseSend closes the connection.
func (s *slotStream) CloseSend() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

var slotStatuses = map[string]geyser.SlotStatus{
	"firstShredReceived": geyser.SlotFirstShredReceived,
	"completed":          geyser.SlotCompleted,
	"createdBank":        geyser.SlotCreatedBank,
	"dead":               geyser.SlotDead,
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
	Error   *wsError              `json:"error"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotificationParams struct {
	Subscription int64       `json:"subscription"`
	Result       wsSlotValue `json:"result"`
}

type wsSlotValue struct {
	Type      string  `json:"type"`
	Slot      uint64  `json:"slot"`
	Parent    *uint64 `json:"parent,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Err       string  `json:"err,omitempty"`
}
