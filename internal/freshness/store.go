package freshness

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/mr-tron/base58"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// MaxProcessingAge is the number of blocks a blockhash stays valid for.
const MaxProcessingAge = 150

// BlockRef anchors a transaction's validity window.
type BlockRef struct {
	Hash                 [32]byte
	BlockHeight          uint64
	LastValidBlockHeight uint64
}

// NewBlockRef builds a BlockRef from a block's hash and height.
func NewBlockRef(hash [32]byte, height uint64) BlockRef {
	return BlockRef{Hash: hash, BlockHeight: height, LastValidBlockHeight: height + MaxProcessingAge}
}

// String returns the base58 blockhash.
func (b BlockRef) String() string {
	return base58.Encode(b.Hash[:])
}

// Store groups the three cells the probe depends on.
type Store struct {
	BlockRef *Cell[BlockRef]
	Slot     *Cell[uint64]
	Fee      *Cell[uint64]
}

// NewStore creates empty cells on the given clock.
func NewStore(clock mclock.Clock) *Store {
	return &Store{
		BlockRef: NewCell[BlockRef](clock),
		Slot:     NewCell[uint64](clock),
		Fee:      NewCell[uint64](clock),
	}
}

// Status returns a read-only view of all cells for the status API.
func (s *Store) Status() []types.CellStatus {
	ref, refOK, refAge := s.BlockRef.Read()
	slot, slotOK, slotAge := s.Slot.Read()
	fee, feeOK, feeAge := s.Fee.Read()

	out := []types.CellStatus{
		{Name: "blockhash", Set: refOK, AgeMs: refAge.Milliseconds()},
		{Name: "slot", Set: slotOK, AgeMs: slotAge.Milliseconds()},
		{Name: "fee", Set: feeOK, AgeMs: feeAge.Milliseconds()},
	}
	if refOK {
		out[0].Value = ref.String()
	}
	if slotOK {
		out[1].Value = strconv.FormatUint(slot, 10)
	}
	if feeOK {
		out[2].Value = strconv.FormatUint(fee, 10)
	}
	return out
}
