package geyser

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode is returned when an update cannot be decoded.
var ErrDecode = errors.New("geyser: decode update")

// CommitmentLevel mirrors the Yellowstone CommitmentLevel enum.
type CommitmentLevel int32

const (
	CommitmentProcessed CommitmentLevel = 0
	CommitmentConfirmed CommitmentLevel = 1
	CommitmentFinalized CommitmentLevel = 2
)

// ParseCommitment accepts processed, confirmed or finalized (case-insensitive).
func ParseCommitment(s string) (CommitmentLevel, error) {
	switch strings.ToLower(s) {
	case "processed":
		return CommitmentProcessed, nil
	case "confirmed":
		return CommitmentConfirmed, nil
	case "finalized":
		return CommitmentFinalized, nil
	}
	return 0, fmt.Errorf("invalid commitment level %q", s)
}

func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	}
	return fmt.Sprintf("commitment(%d)", int32(c))
}

// SlotStatus mirrors the Yellowstone SlotStatus enum.
type SlotStatus int32

const (
	SlotProcessed          SlotStatus = 0
	SlotConfirmed          SlotStatus = 1
	SlotFinalized          SlotStatus = 2
	SlotFirstShredReceived SlotStatus = 3
	SlotCompleted          SlotStatus = 4
	SlotCreatedBank        SlotStatus = 5
	SlotDead               SlotStatus = 6
)

// SlotsFilter selects slot notifications.
type SlotsFilter struct {
	FilterByCommitment *bool
	InterslotUpdates   *bool
}

// TransactionsFilter selects transaction notifications. Either Signature is
// set (a single transaction) or the account lists select activity on an
// address.
type TransactionsFilter struct {
	Vote            *bool
	Failed          *bool
	Signature       string
	AccountInclude  []string
	AccountExclude  []string
	AccountRequired []string
}

// BlocksMetaFilter selects block metadata notifications. It has no options.
type BlocksMetaFilter struct{}

// SubscribeRequest is one message on the client half of Subscribe. Each
// request replaces the server's previous filter set.
type SubscribeRequest struct {
	Slots        map[string]SlotsFilter
	Transactions map[string]TransactionsFilter
	BlocksMeta   map[string]BlocksMetaFilter
	Commitment   *CommitmentLevel
	Ping         *int32
}

// WithPing returns a copy of r that also answers a server ping.
func (r *SubscribeRequest) WithPing(id int32) *SubscribeRequest {
	out := *r
	out.Ping = &id
	return &out
}

// Field numbers from yellowstone geyser.proto.
const (
	reqSlots        = 2
	reqTransactions = 3
	reqBlocksMeta   = 5
	reqCommitment   = 6
	reqPing         = 9

	slotsFilterByCommitment = 1
	slotsInterslotUpdates   = 2

	txVote            = 1
	txFailed          = 2
	txAccountInclude  = 3
	txAccountExclude  = 4
	txSignature       = 5
	txAccountRequired = 6

	mapKey   = 1
	mapValue = 2

	pingID = 1
)

// Marshal encodes the request in protobuf wire format. Map keys are written in
// sorted order so equal requests encode identically.
func (r *SubscribeRequest) Marshal() ([]byte, error) {
	var b []byte

	for _, name := range sortedKeys(r.Slots) {
		b = appendMapEntry(b, reqSlots, name, r.Slots[name].marshal())
	}
	for _, name := range sortedKeys(r.Transactions) {
		f := r.Transactions[name]
		b = appendMapEntry(b, reqTransactions, name, f.marshal())
	}
	for _, name := range sortedKeys(r.BlocksMeta) {
		b = appendMapEntry(b, reqBlocksMeta, name, nil)
	}
	if r.Commitment != nil {
		b = protowire.AppendTag(b, reqCommitment, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*r.Commitment)))
	}
	if r.Ping != nil {
		var ping []byte
		ping = protowire.AppendTag(ping, pingID, protowire.VarintType)
		ping = protowire.AppendVarint(ping, uint64(int64(*r.Ping)))
		b = protowire.AppendTag(b, reqPing, protowire.BytesType)
		b = protowire.AppendBytes(b, ping)
	}
	return b, nil
}

func (f SlotsFilter) marshal() []byte {
	var b []byte
	b = appendOptionalBool(b, slotsFilterByCommitment, f.FilterByCommitment)
	b = appendOptionalBool(b, slotsInterslotUpdates, f.InterslotUpdates)
	return b
}

func (f *TransactionsFilter) marshal() []byte {
	var b []byte
	b = appendOptionalBool(b, txVote, f.Vote)
	b = appendOptionalBool(b, txFailed, f.Failed)
	b = appendStrings(b, txAccountInclude, f.AccountInclude)
	b = appendStrings(b, txAccountExclude, f.AccountExclude)
	if f.Signature != "" {
		b = protowire.AppendTag(b, txSignature, protowire.BytesType)
		b = protowire.AppendString(b, f.Signature)
	}
	b = appendStrings(b, txAccountRequired, f.AccountRequired)
	return b
}

func appendMapEntry(b []byte, field protowire.Number, key string, value []byte) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, mapKey, protowire.BytesType)
	entry = protowire.AppendString(entry, key)
	entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
	entry = protowire.AppendBytes(entry, value)

	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, entry)
}

func appendOptionalBool(b []byte, field protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(*v))
}

func appendStrings(b []byte, field protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Update is a decoded SubscribeUpdate. Only the variants the pinger consumes
// are kept; anything else leaves every pointer nil.
type Update struct {
	Filters     []string
	Slot        *SlotUpdate
	Transaction *TransactionUpdate
	BlockMeta   *BlockMeta
	Ping        bool
	Pong        *int32
}

// SlotUpdate is a slot status change.
type SlotUpdate struct {
	Slot      uint64
	Parent    *uint64
	Status    SlotStatus
	DeadError string
}

// TransactionUpdate reports a transaction that matched a filter.
type TransactionUpdate struct {
	Slot      uint64
	Signature []byte
	IsVote    bool
	HasMeta   bool
	Failed    bool // meta carried an error
}

// Succeeded reports whether the transaction landed with status metadata and
// no error.
func (t *TransactionUpdate) Succeeded() bool {
	return t.HasMeta && !t.Failed
}

// BlockMeta is block metadata without transactions.
type BlockMeta struct {
	Slot        uint64
	Blockhash   string
	BlockHeight uint64
	HasHeight   bool
}

const (
	updFilters     = 1
	updSlot        = 3
	updTransaction = 4
	updPing        = 6
	updBlockMeta   = 7
	updPong        = 9

	slotSlot      = 1
	slotParent    = 2
	slotStatus    = 3
	slotDeadError = 4

	txUpdInfo = 1
	txUpdSlot = 2

	txInfoSignature = 1
	txInfoIsVote    = 2
	txInfoMeta      = 4

	metaErr = 1

	blockMetaSlot   = 1
	blockMetaHash   = 2
	blockMetaHeight = 5

	blockHeightValue = 1
)

// Unmarshal decodes a SubscribeUpdate, skipping unknown fields.
func (u *Update) Unmarshal(b []byte) error {
	*u = Update{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
		switch {
		case num == updFilters && typ == protowire.BytesType:
			u.Filters = append(u.Filters, string(data))
		case num == updSlot && typ == protowire.BytesType:
			s := &SlotUpdate{}
			if err := s.unmarshal(data); err != nil {
				return fmt.Errorf("slot: %w", err)
			}
			u.Slot = s
		case num == updTransaction && typ == protowire.BytesType:
			t := &TransactionUpdate{}
			if err := t.unmarshal(data); err != nil {
				return fmt.Errorf("transaction: %w", err)
			}
			u.Transaction = t
		case num == updBlockMeta && typ == protowire.BytesType:
			m := &BlockMeta{}
			if err := m.unmarshal(data); err != nil {
				return fmt.Errorf("block meta: %w", err)
			}
			u.BlockMeta = m
		case num == updPing && typ == protowire.BytesType:
			u.Ping = true
		case num == updPong && typ == protowire.BytesType:
			var id int32
			err := walk(data, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				if num == pingID && typ == protowire.VarintType {
					id = int32(v)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			u.Pong = &id
		}
		return nil
	})
}

func (s *SlotUpdate) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
		switch {
		case num == slotSlot && typ == protowire.VarintType:
			s.Slot = v
		case num == slotParent && typ == protowire.VarintType:
			p := v
			s.Parent = &p
		case num == slotStatus && typ == protowire.VarintType:
			s.Status = SlotStatus(int32(v))
		case num == slotDeadError && typ == protowire.BytesType:
			s.DeadError = string(data)
		}
		return nil
	})
}

func (t *TransactionUpdate) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
		switch {
		case num == txUpdSlot && typ == protowire.VarintType:
			t.Slot = v
		case num == txUpdInfo && typ == protowire.BytesType:
			return walk(data, func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
				switch {
				case num == txInfoSignature && typ == protowire.BytesType:
					t.Signature = append([]byte(nil), data...)
				case num == txInfoIsVote && typ == protowire.VarintType:
					t.IsVote = protowire.DecodeBool(v)
				case num == txInfoMeta && typ == protowire.BytesType:
					t.HasMeta = true
					return walk(data, func(num protowire.Number, typ protowire.Type, _ uint64, _ []byte) error {
						if num == metaErr && typ == protowire.BytesType {
							t.Failed = true
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
}

func (m *BlockMeta) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
		switch {
		case num == blockMetaSlot && typ == protowire.VarintType:
			m.Slot = v
		case num == blockMetaHash && typ == protowire.BytesType:
			m.Blockhash = string(data)
		case num == blockMetaHeight && typ == protowire.BytesType:
			return walk(data, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				if num == blockHeightValue && typ == protowire.VarintType {
					m.BlockHeight = v
					m.HasHeight = true
				}
				return nil
			})
		}
		return nil
	})
}

// walk iterates over the fields of one message. Varint fields pass their value
// in v, length-delimited fields pass their payload in data. Other wire types
// are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v    uint64
			data []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, v, data); err != nil {
			return err
		}
	}
	return nil
}
