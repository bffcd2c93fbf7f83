// Package txbuilder builds and signs the probe transaction: a compute-budget
// prefix followed by a small SOL transfer from the payer to itself.
package txbuilder

import (
	"errors"

	"github.com/mr-tron/base58"

	"github.com/gateway-fm/pingthing/internal/freshness"
)

// Probe defaults.
const (
	DefaultComputeUnitLimit = 500
	DefaultTransferLamports = 5000
)

// ErrNoKeypair is returned when the builder has no payer.
var ErrNoKeypair = errors.New("txbuilder: keypair is required")

// Probe is a signed transaction ready to send. Resending the same Probe
// always carries the same ID.
type Probe struct {
	ID          string // base58 of the payer signature
	Wire        []byte // serialized transaction
	PriorityFee uint64
	BlockRef    freshness.BlockRef
}

// Builder turns a block reference and a fee into a signed probe.
type Builder interface {
	Build(ref freshness.BlockRef, priorityFee uint64) (*Probe, error)
}

// Config for creating a TransferBuilder.
type Config struct {
	Keypair          *Keypair
	ComputeUnitLimit uint32 // default 500
	Lamports         uint64 // default 5000
}

// TransferBuilder builds self-transfer probes.
type TransferBuilder struct {
	keypair  *Keypair
	cuLimit  uint32
	lamports uint64
}

var _ Builder = (*TransferBuilder)(nil)

// New creates a TransferBuilder.
func New(cfg Config) (*TransferBuilder, error) {
	if cfg.Keypair == nil {
		return nil, ErrNoKeypair
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	if cfg.Lamports == 0 {
		cfg.Lamports = DefaultTransferLamports
	}
	return &TransferBuilder{
		keypair:  cfg.Keypair,
		cuLimit:  cfg.ComputeUnitLimit,
		lamports: cfg.Lamports,
	}, nil
}

// Payer returns the address probes are sent from and to.
func (b *TransferBuilder) Payer() PublicKey { return b.keypair.PublicKey() }

// Build compiles and signs the probe. Account layout: payer (writable
// signer), system program, compute budget program.
func (b *TransferBuilder) Build(ref freshness.BlockRef, priorityFee uint64) (*Probe, error) {
	msg := message{
		numRequiredSignatures: 1,
		numReadonlySigned:     0,
		numReadonlyUnsigned:   2,
		accountKeys:           []PublicKey{b.keypair.PublicKey(), SystemProgramID, ComputeBudgetProgramID},
		recentBlockhash:       ref.Hash,
		instructions: []instruction{
			{programIndex: 2, data: setComputeUnitLimitData(b.cuLimit)},
			{programIndex: 2, data: setComputeUnitPriceData(priorityFee)},
			{programIndex: 1, accounts: []uint8{0, 0}, data: transferData(b.lamports)},
		},
	}

	body := msg.serialize()
	sig := b.keypair.Sign(body)

	wire := make([]byte, 0, 1+len(sig)+len(body))
	wire = appendCompactU16(wire, 1)
	wire = append(wire, sig[:]...)
	wire = append(wire, body...)

	return &Probe{
		ID:          base58.Encode(sig[:]),
		Wire:        wire,
		PriorityFee: priorityFee,
		BlockRef:    ref,
	}, nil
}
