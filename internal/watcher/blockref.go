package watcher

import (
	"context"
	"log/slog"

	"github.com/mr-tron/base58"

	"github.com/gateway-fm/pingthing/internal/freshness"
	"github.com/gateway-fm/pingthing/internal/geyser"
)

// BlockRefWatcher writes the latest block reference from blocks_meta
// notifications.
type BlockRefWatcher struct {
	sub        geyser.Subscriber
	cell       *freshness.Cell[freshness.BlockRef]
	commitment geyser.CommitmentLevel
	reconnect  *Reconnector
	logger     *slog.Logger
}

// NewBlockRefWatcher creates a BlockRefWatcher.
func NewBlockRefWatcher(sub geyser.Subscriber, cell *freshness.Cell[freshness.BlockRef], commitment geyser.CommitmentLevel, reconnect Reconnector, logger *slog.Logger) *BlockRefWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	reconnect.Name = "blockref"
	reconnect.Logger = logger
	return &BlockRefWatcher{
		sub:        sub,
		cell:       cell,
		commitment: commitment,
		reconnect:  &reconnect,
		logger:     logger,
	}
}

// Run blocks until ctx is done or reconnects are exhausted.
func (w *BlockRefWatcher) Run(ctx context.Context) error {
	commitment := w.commitment
	req := &geyser.SubscribeRequest{
		BlocksMeta: map[string]geyser.BlocksMetaFilter{"blockmeta": {}},
		Commitment: &commitment,
	}
	return w.reconnect.Run(ctx, streamSession(w.sub, req, w.logger, w.handle))
}

func (w *BlockRefWatcher) handle(u *geyser.Update) {
	meta := u.BlockMeta
	if meta == nil {
		return
	}

	raw, err := base58.Decode(meta.Blockhash)
	if err != nil || len(raw) != 32 {
		w.logger.Warn("skipping block meta with bad blockhash",
			slog.Uint64("slot", meta.Slot),
			slog.String("blockhash", meta.Blockhash),
		)
		return
	}

	var hash [32]byte
	copy(hash[:], raw)

	if cur, ok, _ := w.cell.Read(); ok && cur.Hash == hash {
		return
	}
	ref := freshness.NewBlockRef(hash, meta.BlockHeight)
	w.cell.Write(ref)
	w.logger.Debug("blockhash updated",
		slog.String("blockhash", meta.Blockhash),
		slog.Uint64("lastValidBlockHeight", ref.LastValidBlockHeight),
	)
}
