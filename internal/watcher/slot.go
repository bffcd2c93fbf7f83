package watcher

import (
	"context"
	"log/slog"

	"github.com/gateway-fm/pingthing/internal/freshness"
	"github.com/gateway-fm/pingthing/internal/geyser"
)

// SlotWatcher writes the newest slot whose first shred was received. The
// source is either the gRPC feed or the websocket feed.
type SlotWatcher struct {
	sub       geyser.Subscriber
	cell      *freshness.Cell[uint64]
	reconnect *Reconnector
	logger    *slog.Logger
}

// NewSlotWatcher creates a SlotWatcher.
func NewSlotWatcher(sub geyser.Subscriber, cell *freshness.Cell[uint64], reconnect Reconnector, logger *slog.Logger) *SlotWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	reconnect.Name = "slot"
	reconnect.Logger = logger
	return &SlotWatcher{sub: sub, cell: cell, reconnect: &reconnect, logger: logger}
}

// Run blocks until ctx is done or reconnects are exhausted.
func (w *SlotWatcher) Run(ctx context.Context) error {
	req := &geyser.SubscribeRequest{
		Slots: map[string]geyser.SlotsFilter{
			"slots": {
				FilterByCommitment: geyser.BoolPtr(false),
				InterslotUpdates:   geyser.BoolPtr(true),
			},
		},
	}
	return w.reconnect.Run(ctx, streamSession(w.sub, req, w.logger, w.handle))
}

func (w *SlotWatcher) handle(u *geyser.Update) {
	if u.Slot == nil || u.Slot.Status != geyser.SlotFirstShredReceived {
		return
	}
	if cur, ok, _ := w.cell.Read(); ok && cur == u.Slot.Slot {
		return
	}
	w.cell.Write(u.Slot.Slot)
}
