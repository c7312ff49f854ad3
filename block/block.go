// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package block implements pebble's block header, the aggregate
// transaction hash, and mining (spec §3, §4.4).
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/pow"
)

// Sentinel errors for block-level structural validation.
var (
	ErrEmptyBlock           = errors.New("block: has no transactions")
	ErrFirstTxNotCoinbase   = errors.New("block: first transaction is not coinbase")
	ErrExtraCoinbase        = errors.New("block: more than one coinbase transaction")
	ErrProofOfWorkInvalid   = errors.New("block: hash does not satisfy proof of work")
	ErrHeaderHashMismatch   = errors.New("block: stored hash does not match recomputed hash")
)

// Header carries the fields spec §3 requires of a block header.
type Header struct {
	Timestamp int64
	PrevHash  chainhash.Hash
	Hash      chainhash.Hash
	Nonce     int64
	Height    int32
}

// Block is a header plus its ordered transactions; Transactions[0] is
// always the coinbase.
type Block struct {
	Header       Header
	Transactions []*ledger.Transaction
}

// txHashAggregate returns SHA256(concat of all transaction ids), the
// aggregate used in the block hash in place of a full Merkle tree (spec
// §3: "tx_hash_aggregate = SHA256(concat of all tx ids)").
func txHashAggregate(txs []*ledger.Transaction) [32]byte {
	var buf bytes.Buffer
	for _, tx := range txs {
		buf.Write(tx.ID[:])
	}
	return crypto.Digest(buf.Bytes())
}

// headerHasher binds a block's aggregate transaction hash and timestamp
// to the nonce search pow.Mine performs.
type headerHasher struct {
	prevHash  chainhash.Hash
	txAgg     [32]byte
	timestamp int64
}

func (h headerHasher) HashForNonce(nonce int64) [32]byte {
	return computeHash(h.prevHash, h.txAgg, h.timestamp, nonce)
}

// computeHash implements spec §3's block hash formula:
// SHA256(prev_hash ∥ tx_hash_aggregate ∥ timestamp_be ∥ target_bits_be ∥ nonce_be).
func computeHash(prevHash chainhash.Hash, txAgg [32]byte, timestamp int64, nonce int64) [32]byte {
	var buf bytes.Buffer
	buf.Write(prevHash[:])
	buf.Write(txAgg[:])
	writeBE64(&buf, uint64(timestamp))
	writeBE64(&buf, uint64(pow.TargetBits))
	writeBE64(&buf, uint64(nonce))
	return crypto.Digest(buf.Bytes())
}

func writeBE64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

// New assembles and mines a new block extending prevHash at height,
// containing transactions (transactions[0] must be the coinbase).
func New(prevHash chainhash.Hash, height int32, transactions []*ledger.Transaction) (*Block, error) {
	if len(transactions) == 0 {
		return nil, ErrEmptyBlock
	}
	if !transactions[0].IsCoinbase() {
		return nil, ErrFirstTxNotCoinbase
	}
	for _, tx := range transactions[1:] {
		if tx.IsCoinbase() {
			return nil, ErrExtraCoinbase
		}
	}

	timestamp := time.Now().Unix()
	agg := txHashAggregate(transactions)

	nonce, hash, err := pow.Mine(headerHasher{prevHash: prevHash, txAgg: agg, timestamp: timestamp})
	if err != nil {
		return nil, fmt.Errorf("block: mining failed: %w", err)
	}

	return &Block{
		Header: Header{
			Timestamp: timestamp,
			PrevHash:  prevHash,
			Hash:      chainhash.Hash(hash),
			Nonce:     nonce,
			Height:    height,
		},
		Transactions: transactions,
	}, nil
}

// VerifyProofOfWork recomputes b's hash from its header fields and
// transactions and checks both that it matches the stored hash and that
// it satisfies the proof-of-work target (spec invariant 4).
func (b *Block) VerifyProofOfWork() error {
	agg := txHashAggregate(b.Transactions)
	recomputed := computeHash(b.Header.PrevHash, agg, b.Header.Timestamp, b.Header.Nonce)
	if recomputed != [32]byte(b.Header.Hash) {
		return ErrHeaderHashMismatch
	}
	if !pow.HashMeetsTarget(recomputed) {
		return ErrProofOfWorkInvalid
	}
	return nil
}

// VerifyShape checks the block-level structural invariant: the first
// transaction is a coinbase and no other transaction is.
func (b *Block) VerifyShape() error {
	if len(b.Transactions) == 0 {
		return ErrEmptyBlock
	}
	if !b.Transactions[0].IsCoinbase() {
		return ErrFirstTxNotCoinbase
	}
	for _, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return ErrExtraCoinbase
		}
	}
	return nil
}

// Serialize encodes the block as header fields followed by its
// transactions, each length-prefixed, in the little-endian binary
// encoding used throughout the store and wire formats (spec §6).
func (b *Block) Serialize() []byte {
	var buf bytes.Buffer
	writeI64(&buf, b.Header.Timestamp)
	buf.Write(b.Header.PrevHash[:])
	buf.Write(b.Header.Hash[:])
	writeI64(&buf, b.Header.Nonce)
	writeI32(&buf, b.Header.Height)

	writeVarInt(&buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		txBytes := tx.Serialize()
		writeVarInt(&buf, uint64(len(txBytes)))
		buf.Write(txBytes)
	}
	return buf.Bytes()
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	b := &Block{}

	var err error
	if b.Header.Timestamp, err = readI64(r); err != nil {
		return nil, fmt.Errorf("block: reading timestamp: %w", err)
	}
	if _, err := io.ReadFull(r, b.Header.PrevHash[:]); err != nil {
		return nil, fmt.Errorf("block: reading prev hash: %w", err)
	}
	if _, err := io.ReadFull(r, b.Header.Hash[:]); err != nil {
		return nil, fmt.Errorf("block: reading hash: %w", err)
	}
	if b.Header.Nonce, err = readI64(r); err != nil {
		return nil, fmt.Errorf("block: reading nonce: %w", err)
	}
	if b.Header.Height, err = readI32(r); err != nil {
		return nil, fmt.Errorf("block: reading height: %w", err)
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("block: reading tx count: %w", err)
	}
	b.Transactions = make([]*ledger.Transaction, count)
	for i := range b.Transactions {
		txLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("block: reading tx[%d] length: %w", i, err)
		}
		txBytes := make([]byte, txLen)
		if _, err := io.ReadFull(r, txBytes); err != nil {
			return nil, fmt.Errorf("block: reading tx[%d]: %w", i, err)
		}
		tx, err := ledger.DeserializeTransaction(txBytes)
		if err != nil {
			return nil, fmt.Errorf("block: decoding tx[%d]: %w", i, err)
		}
		b.Transactions[i] = tx
	}

	return b, nil
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func readI64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(tmp[:])), nil
}

func readI32(r *bytes.Reader) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(tmp[:])), nil
}
