package txbuilder

import "encoding/binary"

// Program addresses used by the probe.
var (
	SystemProgramID        = PublicKey{}
	ComputeBudgetProgramID = mustPublicKey("ComputeBudget111111111111111111111111111111")
)

// Instruction discriminators.
const (
	computeBudgetSetUnitLimit = 2
	computeBudgetSetUnitPrice = 3
	systemTransfer            = 2
)

// instruction is a compiled instruction referencing accounts by index.
type instruction struct {
	programIndex uint8
	accounts     []uint8
	data         []byte
}

// message is a legacy (non-versioned) transaction message.
type message struct {
	numRequiredSignatures uint8
	numReadonlySigned     uint8
	numReadonlyUnsigned   uint8
	accountKeys           []PublicKey
	recentBlockhash       [32]byte
	instructions          []instruction
}

func (m *message) serialize() []byte {
	b := make([]byte, 0, 256)
	b = append(b, m.numRequiredSignatures, m.numReadonlySigned, m.numReadonlyUnsigned)

	b = appendCompactU16(b, len(m.accountKeys))
	for _, k := range m.accountKeys {
		b = append(b, k[:]...)
	}
	b = append(b, m.recentBlockhash[:]...)

	b = appendCompactU16(b, len(m.instructions))
	for _, ix := range m.instructions {
		b = append(b, ix.programIndex)
		b = appendCompactU16(b, len(ix.accounts))
		b = append(b, ix.accounts...)
		b = appendCompactU16(b, len(ix.data))
		b = append(b, ix.data...)
	}
	return b
}

// appendCompactU16 appends n in Solana's short-vec encoding.
func appendCompactU16(b []byte, n int) []byte {
	v := uint16(n)
	for {
		elem := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

func setComputeUnitLimitData(units uint32) []byte {
	data := make([]byte, 5)
	data[0] = computeBudgetSetUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return data
}

func setComputeUnitPriceData(microLamports uint64) []byte {
	data := make([]byte, 9)
	data[0] = computeBudgetSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return data
}

func transferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return data
}
