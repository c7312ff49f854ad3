// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainhash provides the fixed-size hash type used to identify
// blocks and transactions throughout pebble.
package chainhash

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the number of bytes in a hash produced by crypto.Digest.
const HashSize = 32

// Hash identifies a block or a transaction by the SHA-256 digest of its
// canonical serialization.
type Hash [HashSize]byte

// String returns the hash as a lowercase hexadecimal string, in the same
// byte order it is stored and hashed in. Unlike Bitcoin, pebble does not
// reverse hash bytes for display — one less convention for a pedagogical
// implementation to get wrong.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero sentinel used by
// coinbase inputs to signal "no previous transaction".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// CloneBytes returns a newly allocated copy of the hash's bytes.
func (h Hash) CloneBytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// NewHash constructs a Hash from a byte slice, which must be exactly
// HashSize bytes long.
func NewHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("chainhash: invalid hash length %d, expected %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// NewHashFromStr parses the hex-encoded string produced by String back
// into a Hash.
func NewHashFromStr(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("chainhash: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("chainhash: invalid hash string length %d, expected %d", len(raw), HashSize)
	}
	copy(h[:], raw)
	return h, nil
}
