// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements pebble's key storage (spec §4.2): a wallet
// owns one secret key and its derived address, and a Service is a
// process-wide collection of wallets persisted as a single blob. Every
// mutation rewrites the file atomically — write-temp, fsync, rename — and
// a failure to persist is returned to the caller rather than dropped.
package wallet

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pebblechain/pebble/crypto"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// ErrNotFound is returned by Get when no wallet is stored under an
// address.
var ErrNotFound = errors.New("wallet: no wallet for that address")

// ErrLocked is returned when an operation requiring the secret key is
// attempted on a service whose blob is still passphrase-encrypted.
var ErrLocked = errors.New("wallet: service is locked")

// ErrWrongPassphrase is returned by Unlock when the supplied passphrase
// fails to decrypt the stored blob.
var ErrWrongPassphrase = errors.New("wallet: wrong passphrase")

// Wallet owns one secret key and caches its derived Base58Check address
// (spec §4.2).
type Wallet struct {
	KeyPair crypto.KeyPair
	Address string
}

// New generates a fresh key pair and derives its address.
func New() (*Wallet, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet: generating key pair: %w", err)
	}
	hash := crypto.PubKeyHash(kp.PublicKey[:])
	return &Wallet{KeyPair: *kp, Address: crypto.Base58Encode(hash[:])}, nil
}

// blob is the on-disk representation of a Service: every wallet, keyed by
// address, gob-encoded then optionally passphrase-sealed.
type blob struct {
	Wallets map[string]Wallet
}

// Service is a process-wide collection of wallets, persisted as a single
// serialized blob at a configured path (spec §4.2).
type Service struct {
	mu      sync.RWMutex
	path    string
	wallets map[string]*Wallet

	passphrase []byte // non-nil once Unlock succeeds or Lock is set; nil means "stored in the clear"
	sealedBlob []byte // raw encrypted bytes read at Open, until Unlock consumes them
}

// Open loads the wallet blob at path, creating an empty one if the file
// does not yet exist. If the stored blob is passphrase-encrypted, Open
// returns a Service in the locked state: every operation but Unlock fails
// with ErrLocked until Unlock succeeds.
func Open(path string) (*Service, error) {
	s := &Service{path: path, wallets: make(map[string]*Wallet)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wallet: reading %s: %w", path, err)
	}

	if sealed, ok := parseSealed(raw); ok {
		s.sealedBlob = sealed
		return s, nil
	}

	w, err := decodeBlob(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding %s: %w", path, err)
	}
	s.wallets = w
	return s, nil
}

// Create generates a new wallet, adds it to the service, persists the
// blob, and returns the new address (spec §4.2's create() → address).
func (s *Service) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked() {
		return "", ErrLocked
	}

	w, err := New()
	if err != nil {
		return "", err
	}
	s.wallets[w.Address] = w
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return w.Address, nil
}

// Get returns the wallet stored under address, or ErrNotFound.
func (s *Service) Get(address string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.locked() {
		return nil, ErrLocked
	}
	w, ok := s.wallets[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// ListAddresses returns every address the service holds a wallet for
// (spec §4.2's list_addresses() → sequence). Order is unspecified.
func (s *Service) ListAddresses() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.locked() {
		return nil, ErrLocked
	}
	out := make([]string, 0, len(s.wallets))
	for addr := range s.wallets {
		out = append(out, addr)
	}
	return out, nil
}

func (s *Service) locked() bool {
	return s.sealedBlob != nil
}

// saveLocked rewrites the blob atomically: write-temp, fsync, rename
// (spec §4.2). Must be called with mu held.
func (s *Service) saveLocked() error {
	plain, err := encodeBlob(s.wallets)
	if err != nil {
		return fmt.Errorf("wallet: encoding blob: %w", err)
	}

	out := plain
	if s.passphrase != nil {
		sealed, err := seal(plain, s.passphrase)
		if err != nil {
			return fmt.Errorf("wallet: sealing blob: %w", err)
		}
		out = sealed
	}
	return atomicWrite(s.path, out)
}

func encodeBlob(wallets map[string]*Wallet) ([]byte, error) {
	b := blob{Wallets: make(map[string]Wallet, len(wallets))}
	for addr, w := range wallets {
		b.Wallets[addr] = *w
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlob(raw []byte) (map[string]*Wallet, error) {
	var b blob
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, err
	}
	out := make(map[string]*Wallet, len(b.Wallets))
	for addr := range b.Wallets {
		w := b.Wallets[addr]
		out[addr] = &w
	}
	return out, nil
}

// atomicWrite writes data to path via a temp file in the same directory,
// fsyncs it, then renames it over path — the write-temp/fsync/rename
// sequence spec §4.2 requires so a crash mid-write never leaves a
// truncated blob on disk.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wallet-*.tmp")
	if err != nil {
		return fmt.Errorf("wallet: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("wallet: writing temp file: %w", err)
	}
	if err := fsync(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("wallet: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("wallet: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("wallet: renaming into place: %w", err)
	}
	return nil
}

const (
	sealedMagic   = "PBLWLT1S"
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	scryptKeySize = 32
	saltSize      = 16
)

// seal encrypts plain under a key derived from passphrase via scrypt,
// using nacl/secretbox (XSalsa20-Poly1305). The output is
// magic ∥ salt ∥ nonce ∥ ciphertext.
func seal(plain, passphrase []byte) ([]byte, error) {
	salt, err := crypto.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	nb, err := crypto.RandomBytes(len(nonce))
	if err != nil {
		return nil, err
	}
	copy(nonce[:], nb)

	var secretKey [32]byte
	copy(secretKey[:], key)

	out := make([]byte, 0, len(sealedMagic)+saltSize+len(nonce)+len(plain)+secretbox.Overhead)
	out = append(out, []byte(sealedMagic)...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, &secretKey)
	return out, nil
}

// unseal reverses seal.
func unseal(sealed, passphrase []byte) ([]byte, error) {
	rest := sealed[len(sealedMagic):]
	salt := rest[:saltSize]
	rest = rest[saltSize:]
	var nonce [24]byte
	copy(nonce[:], rest[:len(nonce)])
	ciphertext := rest[len(nonce):]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	var secretKey [32]byte
	copy(secretKey[:], key)

	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &secretKey)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	return scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeySize)
}

func parseSealed(raw []byte) ([]byte, bool) {
	if len(raw) < len(sealedMagic) || string(raw[:len(sealedMagic)]) != sealedMagic {
		return nil, false
	}
	return raw, true
}

// Lock re-encrypts the blob under passphrase and persists it, so a
// subsequent process-restart's Open returns a locked Service until
// Unlock is called again. This is an optional supplement layered on top
// of spec §4.2's bare "serialized blob" persistence.
func (s *Service) Lock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked() {
		return ErrLocked
	}
	s.passphrase = []byte(passphrase)
	return s.saveLocked()
}

// Unlock decrypts a locked Service's blob with passphrase, making every
// other operation available again.
func (s *Service) Unlock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked() {
		return nil
	}
	plain, err := unseal(s.sealedBlob, []byte(passphrase))
	if err != nil {
		return err
	}
	wallets, err := decodeBlob(plain)
	if err != nil {
		return fmt.Errorf("wallet: decoding unsealed blob: %w", err)
	}
	s.wallets = wallets
	s.passphrase = []byte(passphrase)
	s.sealedBlob = nil
	return nil
}
