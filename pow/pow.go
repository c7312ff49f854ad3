// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pow implements pebble's proof-of-work: a constant difficulty
// target and the nonce search that satisfies it (spec §4.4).
package pow

import (
	"errors"
	"math/big"
)

// TargetBits is the constant difficulty: a block's hash, read as a big
// integer, must be less than 1 << (256 - TargetBits). There is no
// retargeting in this system (spec §9) — deliberate, for pedagogy.
const TargetBits = 8

// MaxNonce bounds the nonce search. The miner gives up if it is reached,
// which in practice never happens at TargetBits = 8.
const MaxNonce = 1<<63 - 1

// ErrNonceExhausted is returned when the nonce search exceeds MaxNonce
// without finding a hash below target.
var ErrNonceExhausted = errors.New("pow: nonce search exhausted")

// Target returns the numeric ceiling a block's hash must lie below.
func Target() *big.Int {
	target := big.NewInt(1)
	target.Lsh(target, uint(256-TargetBits))
	return target
}

// Work is the proof-of-work credited to a single block: 2^(256-TargetBits).
// Chain work is the sum of Work() over every block on the chain; since
// difficulty is constant, comparing accumulated work reduces to comparing
// height, with ties broken by whichever block a node saw first (spec §3).
func Work() *big.Int {
	return Target()
}

// HashMeetsTarget reports whether hash, interpreted as a big-endian
// unsigned integer, is less than the proof-of-work target.
func HashMeetsTarget(hash [32]byte) bool {
	n := new(big.Int).SetBytes(hash[:])
	return n.Cmp(Target()) < 0
}

// HeaderHasher is satisfied by the block package's unexported header
// hasher: it can compute a header's hash for a candidate nonce without pow
// needing to import block (which would create an import cycle, since
// block imports pow for mining).
type HeaderHasher interface {
	HashForNonce(nonce int64) [32]byte
}

// Mine searches increasing nonces, starting at 0, until h.HashForNonce(nonce)
// satisfies the proof-of-work target. It returns the winning nonce and hash.
func Mine(h HeaderHasher) (nonce int64, hash [32]byte, err error) {
	for nonce = 0; nonce < MaxNonce; nonce++ {
		hash = h.HashForNonce(nonce)
		if HashMeetsTarget(hash) {
			return nonce, hash, nil
		}
	}
	return 0, [32]byte{}, ErrNonceExhausted
}
