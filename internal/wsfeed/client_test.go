package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/pingthing/internal/geyser"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// slotServer answers slotsUpdatesSubscribe and then writes frames.
func slotServer(t *testing.T, frames []string) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "slotsUpdatesSubscribe" {
			t.Errorf("expected slotsUpdatesSubscribe, got %s", req.Method)
		}

		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func notification(kind string, slot uint64) string {
	return `{"jsonrpc":"2.0","method":"slotsUpdatesNotification","params":{"subscription":7,"result":{"type":"` +
		kind + `","slot":` + strconv.FormatUint(slot, 10) + `,"timestamp":1}}}`
}

func TestSlotStreamFirstShred(t *testing.T) {
	url := slotServer(t, []string{
		notification("frozen", 99),
		notification("firstShredReceived", 100),
		notification("completed", 100),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(url, nil).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.CloseSend()

	if err := stream.Send(&geyser.SubscribeRequest{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// A second Send (e.g. a ping reply) must not resubscribe.
	if err := stream.Send(&geyser.SubscribeRequest{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	u, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if u.Slot == nil || u.Slot.Slot != 100 || u.Slot.Status != geyser.SlotFirstShredReceived {
		t.Errorf("first update = %+v, want firstShredReceived at 100", u.Slot)
	}

	u, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if u.Slot.Status != geyser.SlotCompleted {
		t.Errorf("status = %v, want completed", u.Slot.Status)
	}
}

func TestSlotStreamDecodeError(t *testing.T) {
	url := slotServer(t, []string{"{not json"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := New(url, nil).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.CloseSend()
	stream.Send(&geyser.SubscribeRequest{})

	if _, err := stream.Recv(); !errors.Is(err, geyser.ErrDecode) {
		t.Errorf("Recv() error = %v, want ErrDecode", err)
	}
}

func TestSlotStreamClosedByContext(t *testing.T) {
	url := slotServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := New(url, nil).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	stream.Send(&geyser.SubscribeRequest{})

	// Drain the subscription confirmation.
	errc := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		if err == nil {
			t.Error("expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after cancellation")
	}
}

func TestSubscribeDialError(t *testing.T) {
	if _, err := New("ws://127.0.0.1:1", nil).Subscribe(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}
