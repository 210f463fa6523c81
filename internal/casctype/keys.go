// Package casctype holds the key types and sentinel errors shared by the
// storage tables.
package casctype

import (
	"encoding/hex"
	"fmt"
)

const (
	// EKeySize is the length of a truncated encoded key as stored in index shards.
	EKeySize = 9

	// ContentHashSize is the length of a full content hash.
	ContentHashSize = 16
)

// EKey is a truncated encoded key identifying a physical storage location.
type EKey [EKeySize]byte

// ContentHash identifies file content independent of where it is stored.
type ContentHash [ContentHashSize]byte

// EKeyFromBytes truncates b to an EKey. Inputs shorter than EKeySize are
// zero padded.
func EKeyFromBytes(b []byte) EKey {
	var k EKey
	copy(k[:], b)
	return k
}

// ParseEKey decodes a hex string and truncates it to an EKey.
func ParseEKey(s string) (EKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EKey{}, fmt.Errorf("parse encoded key %q: %w", s, err)
	}
	if len(b) < EKeySize {
		return EKey{}, fmt.Errorf("parse encoded key %q: %d bytes, want at least %d", s, len(b), EKeySize)
	}
	return EKeyFromBytes(b), nil
}

// String returns the hex encoding of the key.
func (k EKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParseContentHash decodes a hex-encoded content hash.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse content hash %q: %w", s, err)
	}
	if len(b) != ContentHashSize {
		return h, fmt.Errorf("parse content hash %q: %d bytes, want %d", s, len(b), ContentHashSize)
	}
	copy(h[:], b)
	return h, nil
}

// String returns the hex encoding of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}
