// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package crypto collects pebble's cryptographic primitives: the single
// canonical SHA-256 digest function, secp256k1 keypair generation, Schnorr
// signing and verification, and the Base58Check address codec.
//
// Nothing outside this package calls crypto/sha256 directly — Digest is the
// one canonical hash entry point the rest of the module uses.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Sizes of the key material pebble works with.
const (
	PrivateKeySize        = 32
	CompressedPubKeySize  = 33
	addressVersion   byte = 0x00
)

// Sentinel errors for the taxonomy described in spec §7.
var (
	ErrInvalidKey       = errors.New("crypto: invalid key")
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	ErrInvalidAddress   = errors.New("crypto: invalid address")
)

// Digest returns the SHA-256 hash of data. This is the single canonical
// digest function: every hash pebble's own code computes — transaction
// ids, block hashes, public-key hashes — goes through this function. The
// Base58Check address checksum is computed inside btcutil's base58
// package, not here.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// KeyPair is a secp256k1 secret key paired with its compressed public key.
type KeyPair struct {
	Secret    [PrivateKeySize]byte
	PublicKey [CompressedPubKeySize]byte
}

// GenerateKeyPair produces a new random secp256k1 key pair suitable for
// Schnorr signing.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer priv.Zero()

	kp := &KeyPair{}
	copy(kp.Secret[:], priv.Serialize())
	copy(kp.PublicKey[:], priv.PubKey().SerializeCompressed())
	return kp, nil
}

// PublicKeyFromSecret derives the compressed public key for a 32-byte
// secret key.
func PublicKeyFromSecret(secret []byte) ([CompressedPubKeySize]byte, error) {
	var out [CompressedPubKeySize]byte
	priv := secp256k1.PrivKeyFromBytes(secret)
	if priv == nil {
		return out, ErrInvalidKey
	}
	copy(out[:], priv.PubKey().SerializeCompressed())
	return out, nil
}

// Sign produces a Schnorr signature over the SHA-256 digest of message
// using the given 32-byte secret key.
func Sign(secret []byte, message []byte) ([]byte, error) {
	if len(secret) != PrivateKeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes", ErrInvalidKey, PrivateKeySize)
	}
	priv := secp256k1.PrivKeyFromBytes(secret)
	if priv == nil {
		return nil, ErrInvalidKey
	}
	digest := Digest(message)
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig.Serialize(), nil
}

// Verify reports whether sig is a valid Schnorr signature over the
// SHA-256 digest of message under the given compressed public key.
func Verify(pubKey []byte, sig []byte, message []byte) bool {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	digest := Digest(message)
	return parsed.Verify(digest[:], pk)
}

// PubKeyHash returns the 32-byte SHA-256 hash of a compressed public key,
// the value locked to by a transaction output.
func PubKeyHash(pubKey []byte) [32]byte {
	return Digest(pubKey)
}

// Base58Encode encodes payload as a Base58Check string: version byte,
// payload, then the first four bytes of SHA256(SHA256(version ∥ payload)).
func Base58Encode(payload []byte) string {
	return base58.CheckEncode(payload, addressVersion)
}

// Base58Decode reverses Base58Encode, recomputing and verifying the
// checksum. It returns ErrInvalidAddress on any decode or checksum
// failure, or if the address was not produced with pebble's version byte.
func Base58Decode(address string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != addressVersion {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x", ErrInvalidAddress, version)
	}
	return payload, nil
}

// RandomBytes returns n cryptographically random bytes, used for the
// coinbase's anti-collision witness datum (spec §4.3).
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
