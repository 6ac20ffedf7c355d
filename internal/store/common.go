// Package store persists the four independent keyed collections of the
// matchmaking core — sessions, jurisdiction policy, delegated admins and
// consumed proof ids — plus the verification key and a handful of
// singleton metadata entries. Each collection owns a one-byte key prefix;
// records are CBOR-encoded. Sessions and replay records carry expiries
// through a shared expiry index; policy and admin records do not expire.
package store

import "encoding/binary"

// Prefix constants for all store types
const (
	prefixSession byte = iota + 1
	prefixPolicy
	prefixDelegate
	prefixReplay
	prefixVerificationKey
	prefixMeta
	prefixExpiry
)

// Singleton metadata sub-keys under prefixMeta.
const (
	metaNextSessionID byte = iota + 1
	metaGlobalAdmin
	metaDefaultAllow
	metaClock
)

// PrefixToString converts a prefix byte to a string
func PrefixToString(p byte) string {
	switch p {
	case prefixSession:
		return "session"
	case prefixPolicy:
		return "policy"
	case prefixDelegate:
		return "delegate"
	case prefixReplay:
		return "replay"
	case prefixVerificationKey:
		return "verificationKey"
	case prefixMeta:
		return "meta"
	case prefixExpiry:
		return "expiry"
	default:
		return "unknown"
	}
}

// makeKey creates a key from a prefix and an arbitrary suffix
func makeKey(prefix byte, suffix []byte) []byte {
	key := make([]byte, 1+len(suffix))
	key[0] = prefix
	copy(key[1:], suffix)
	return key
}

// makeU32Key creates a key from a prefix and a big-endian uint32, so that
// iteration order follows numeric order.
func makeU32Key(prefix byte, v uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:], v)
	return key
}

func makeMetaKey(sub byte) []byte {
	return []byte{prefixMeta, sub}
}
