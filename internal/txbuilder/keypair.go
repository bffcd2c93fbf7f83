package txbuilder

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair errors.
var (
	ErrKeypairLength    = errors.New("keypair must be 32 or 64 bytes")
	ErrKeypairMismatch  = errors.New("keypair public half does not match its secret")
	ErrPubkeyNotOnCurve = errors.New("public key is not a valid ed25519 point")
)

// PublicKey is a 32-byte Solana account address.
type PublicKey [32]byte

// String returns the base58 address.
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func mustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// Keypair is the probe's fee payer.
type Keypair struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// ParseKeypair decodes a base58 keypair as exported by the Solana CLI
// (64 bytes: seed followed by public key) or a bare 32-byte seed.
func ParseKeypair(encoded string) (*Keypair, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode keypair: %w", err)
	}
	return KeypairFromBytes(raw)
}

// KeypairFromBytes validates raw and derives the signing key from its seed.
func KeypairFromBytes(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize && len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d", ErrKeypairLength, len(raw))
	}

	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)

	if len(raw) == ed25519.PrivateKeySize && !bytes.Equal(pub, raw[ed25519.SeedSize:]) {
		return nil, ErrKeypairMismatch
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPubkeyNotOnCurve, err)
	}

	kp := &Keypair{private: priv}
	copy(kp.public[:], pub)
	return kp, nil
}

// PublicKey returns the payer address.
func (k *Keypair) PublicKey() PublicKey { return k.public }

// Sign signs message with the payer key.
func (k *Keypair) Sign(message []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// IsOnCurve reports whether pk decodes to a valid ed25519 point.
func IsOnCurve(pk PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}
