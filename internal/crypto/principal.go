package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Principal is an opaque caller identity used for authorization checks.
// It carries no key material of its own; callers are identified by the
// 32-byte value only.
type Principal [PrincipalSize]byte

// PrincipalFromPublicKey derives a Principal from an ed25519 public key.
func PrincipalFromPublicKey(pub ed25519.PublicKey) (Principal, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Principal{}, fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}
	var p Principal
	copy(p[:], pub)
	return p, nil
}

// PrincipalFromHex parses a hex-encoded Principal, with or without a 0x
// prefix.
func PrincipalFromHex(s string) (Principal, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Principal{}, fmt.Errorf("decoding principal hex: %w", err)
	}
	if len(raw) != PrincipalSize {
		return Principal{}, fmt.Errorf("invalid principal length: %d", len(raw))
	}
	var p Principal
	copy(p[:], raw)
	return p, nil
}

func (p Principal) String() string {
	return hex.EncodeToString(p[:])
}

func (p Principal) IsZero() bool {
	return p == Principal{}
}
