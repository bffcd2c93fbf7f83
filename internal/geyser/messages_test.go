package geyser

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire helpers for building server-side frames.

func varintField(num protowire.Number, v uint64) []byte {
	b := protowire.AppendTag(nil, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func bytesField(num protowire.Number, data []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func msg(fields ...[]byte) []byte {
	return bytes.Join(fields, nil)
}

func slotFrame(slot uint64, status SlotStatus) []byte {
	return msg(
		bytesField(updFilters, []byte("slots")),
		bytesField(updSlot, msg(
			varintField(slotSlot, slot),
			varintField(slotParent, slot-1),
			varintField(slotStatus, uint64(status)),
		)),
	)
}

func blockMetaFrame(slot uint64, hash string, height uint64) []byte {
	return bytesField(updBlockMeta, msg(
		varintField(blockMetaSlot, slot),
		bytesField(blockMetaHash, []byte(hash)),
		bytesField(blockMetaHeight, varintField(blockHeightValue, height)),
	))
}

func txFrame(sig []byte, slot uint64, withMeta, failed bool) []byte {
	info := msg(
		bytesField(txInfoSignature, sig),
		varintField(txInfoIsVote, 0),
	)
	if withMeta {
		var meta []byte
		if failed {
			meta = bytesField(metaErr, []byte{1, 2})
		}
		// Fee field so a successful meta is non-empty.
		meta = append(meta, varintField(2, 5000)...)
		info = append(info, bytesField(txInfoMeta, meta)...)
	}
	return bytesField(updTransaction, msg(
		bytesField(txUpdInfo, info),
		varintField(txUpdSlot, slot),
	))
}

func TestUpdateUnmarshalSlot(t *testing.T) {
	var u Update
	if err := u.Unmarshal(slotFrame(101, SlotFirstShredReceived)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if u.Slot == nil {
		t.Fatal("expected slot update")
	}
	if u.Slot.Slot != 101 || u.Slot.Status != SlotFirstShredReceived {
		t.Errorf("slot = %+v", u.Slot)
	}
	if u.Slot.Parent == nil || *u.Slot.Parent != 100 {
		t.Errorf("parent = %v, want 100", u.Slot.Parent)
	}
	if len(u.Filters) != 1 || u.Filters[0] != "slots" {
		t.Errorf("filters = %v", u.Filters)
	}
}

func TestUpdateUnmarshalBlockMeta(t *testing.T) {
	var u Update
	if err := u.Unmarshal(blockMetaFrame(7, "hash58", 1234)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if u.BlockMeta == nil {
		t.Fatal("expected block meta")
	}
	if u.BlockMeta.Slot != 7 || u.BlockMeta.Blockhash != "hash58" || u.BlockMeta.BlockHeight != 1234 || !u.BlockMeta.HasHeight {
		t.Errorf("block meta = %+v", u.BlockMeta)
	}
}

func TestUpdateUnmarshalTransaction(t *testing.T) {
	sig := bytes.Repeat([]byte{3}, 64)

	tests := []struct {
		name        string
		frame       []byte
		wantSuccess bool
	}{
		{"success", txFrame(sig, 50, true, false), true},
		{"failed", txFrame(sig, 50, true, true), false},
		{"no meta", txFrame(sig, 50, false, false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u Update
			if err := u.Unmarshal(tt.frame); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if u.Transaction == nil {
				t.Fatal("expected transaction update")
			}
			if !bytes.Equal(u.Transaction.Signature, sig) || u.Transaction.Slot != 50 {
				t.Errorf("transaction = %+v", u.Transaction)
			}
			if got := u.Transaction.Succeeded(); got != tt.wantSuccess {
				t.Errorf("Succeeded() = %v, want %v", got, tt.wantSuccess)
			}
		})
	}
}

func TestUpdateUnmarshalPingPong(t *testing.T) {
	var u Update
	if err := u.Unmarshal(bytesField(updPing, nil)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !u.Ping {
		t.Error("expected ping")
	}

	if err := u.Unmarshal(bytesField(updPong, varintField(pingID, 1))); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if u.Ping {
		t.Error("Unmarshal should reset previous state")
	}
	if u.Pong == nil || *u.Pong != 1 {
		t.Errorf("pong = %v, want 1", u.Pong)
	}
}

func TestUpdateUnmarshalSkipsUnknown(t *testing.T) {
	frame := msg(
		bytesField(2, []byte("account update")),
		protowire.AppendTag(nil, 40, protowire.Fixed64Type),
		make([]byte, 8),
		slotFrame(9, SlotConfirmed),
	)
	var u Update
	if err := u.Unmarshal(frame); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if u.Slot == nil || u.Slot.Slot != 9 {
		t.Errorf("slot = %+v", u.Slot)
	}
}

func TestUpdateUnmarshalTruncated(t *testing.T) {
	frame := slotFrame(9, SlotConfirmed)
	var u Update
	err := u.Unmarshal(frame[:len(frame)-2])
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Unmarshal() error = %v, want ErrDecode", err)
	}
}

func TestSubscribeRequestMarshal(t *testing.T) {
	commitment := CommitmentConfirmed
	req := &SubscribeRequest{
		Slots: map[string]SlotsFilter{
			"slots": {FilterByCommitment: BoolPtr(false), InterslotUpdates: BoolPtr(true)},
		},
		Commitment: &commitment,
	}

	got, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := msg(
		bytesField(reqSlots, msg(
			bytesField(mapKey, []byte("slots")),
			bytesField(mapValue, msg(
				varintField(slotsFilterByCommitment, 0),
				varintField(slotsInterslotUpdates, 1),
			)),
		)),
		varintField(reqCommitment, 1),
	)
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal() = %x, want %x", got, want)
	}
}

func TestSubscribeRequestMarshalTransactions(t *testing.T) {
	req := &SubscribeRequest{
		Transactions: map[string]TransactionsFilter{
			"probe-b": {Signature: "sigB", Vote: BoolPtr(false)},
			"probe-a": {Signature: "sigA", Vote: BoolPtr(false)},
		},
	}

	got, _ := req.Marshal()

	entry := func(name, sig string) []byte {
		return bytesField(reqTransactions, msg(
			bytesField(mapKey, []byte(name)),
			bytesField(mapValue, msg(
				varintField(txVote, 0),
				bytesField(txSignature, []byte(sig)),
			)),
		))
	}
	want := msg(entry("probe-a", "sigA"), entry("probe-b", "sigB"))
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal() = %x, want %x", got, want)
	}
}

func TestSubscribeRequestWithPing(t *testing.T) {
	req := &SubscribeRequest{BlocksMeta: map[string]BlocksMetaFilter{"blockmeta": {}}}
	pinged := req.WithPing(1)

	if req.Ping != nil {
		t.Error("WithPing must not modify the receiver")
	}

	got, _ := pinged.Marshal()
	want := msg(
		bytesField(reqBlocksMeta, msg(
			bytesField(mapKey, []byte("blockmeta")),
			bytesField(mapValue, nil),
		)),
		bytesField(reqPing, varintField(pingID, 1)),
	)
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal() = %x, want %x", got, want)
	}
}

func TestParseCommitment(t *testing.T) {
	tests := []struct {
		in      string
		want    CommitmentLevel
		wantErr bool
	}{
		{"processed", CommitmentProcessed, false},
		{"Confirmed", CommitmentConfirmed, false},
		{"FINALIZED", CommitmentFinalized, false},
		{"recent", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCommitment(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommitment(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCommitment(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		target  string
		wantTLS bool
	}{
		{"https://grpc.example.com", "grpc.example.com:443", true},
		{"https://grpc.example.com:2053/", "grpc.example.com:2053", true},
		{"http://127.0.0.1:10000", "127.0.0.1:10000", false},
		{"grpc.example.com:443", "grpc.example.com:443", true},
	}
	for _, tt := range tests {
		target, useTLS := ParseEndpoint(tt.in)
		if target != tt.target || useTLS != tt.wantTLS {
			t.Errorf("ParseEndpoint(%q) = (%q, %v), want (%q, %v)", tt.in, target, useTLS, tt.target, tt.wantTLS)
		}
	}
}
