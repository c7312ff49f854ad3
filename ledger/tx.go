// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger implements pebble's transaction model: key-hash locked
// outputs, inputs that reference them, and the coinbase/spend construction,
// signing, and verification rules of spec §4.3.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/crypto"
)

// Subsidy is the fixed coinbase reward. There is no halving schedule —
// deliberate, for pedagogy (spec §9).
const Subsidy int64 = 50_00000000

// CoinbaseVout is the sentinel vout index of a coinbase input.
const CoinbaseVout uint32 = 0xFFFFFFFF

// Sentinel errors raised while building or validating transactions.
var (
	ErrInsufficientFunds   = errors.New("ledger: insufficient funds")
	ErrNoInputs            = errors.New("ledger: transaction has no inputs")
	ErrNoOutputs           = errors.New("ledger: transaction has no outputs")
	ErrNonPositiveValue    = errors.New("ledger: output value must be positive")
	ErrInvalidSignature    = errors.New("ledger: invalid input signature")
	ErrUnknownPriorTx      = errors.New("ledger: referenced transaction not found")
	ErrUnknownPriorOutput  = errors.New("ledger: referenced output index out of range")
	ErrConservationBroken  = errors.New("ledger: outputs exceed inputs")
	ErrMalformedCoinbase   = errors.New("ledger: malformed coinbase transaction")
	ErrUnexpectedCoinbase  = errors.New("ledger: coinbase input outside first position")
)

// TxInput references a previous transaction's output. A coinbase input is
// identified by an empty PrevTxID and Vout == CoinbaseVout.
type TxInput struct {
	PrevTxID  chainhash.Hash
	Vout      uint32
	Signature []byte
	PubKey    []byte
}

// IsCoinbase reports whether in references no real prior output.
func (in TxInput) IsCoinbase() bool {
	return in.PrevTxID.IsZero() && in.Vout == CoinbaseVout
}

// UsesKey reports whether the input is signed by the key whose hash is
// pubKeyHash.
func (in TxInput) UsesKey(pubKeyHash [32]byte) bool {
	return crypto.PubKeyHash(in.PubKey) == pubKeyHash
}

// TxOutput locks a value to the hash of an owner's public key. InMempool
// is a reservation flag owned by the UTXO index (spec §3) — it is never
// part of a transaction's identity and is excluded from hashing.
type TxOutput struct {
	Value      int64
	PubKeyHash [32]byte
	InMempool  bool
}

// Lock builds an output paying amount to the owner of pubKeyHash.
func Lock(amount int64, pubKeyHash [32]byte) TxOutput {
	return TxOutput{Value: amount, PubKeyHash: pubKeyHash}
}

// IsLockedWith reports whether the output is locked to pubKeyHash.
func (out TxOutput) IsLockedWith(pubKeyHash [32]byte) bool {
	return out.PubKeyHash == pubKeyHash
}

// Transaction is pebble's fundamental unit of value transfer: an ordered
// list of inputs spending prior outputs, and an ordered list of new
// outputs, identified by the hash of its trimmed, id-blanked serialization.
type Transaction struct {
	ID   chainhash.Hash
	Vin  []TxInput
	Vout []TxOutput
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input, and that input is the coinbase sentinel.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && tx.Vin[0].IsCoinbase()
}

// SetID recomputes tx.ID from its current Vin/Vout. Callers must call this
// after constructing or mutating a transaction — the id is a pure function
// of the rest of the struct (spec invariant 1).
func (tx *Transaction) SetID() {
	tx.ID = chainhash.Hash(crypto.Digest(tx.serializeForID()))
}

// serializeForID canonically encodes the transaction with every input's
// signature and public key blanked out, per spec §3: "id is SHA256 of the
// canonical serialization with input signatures and public keys blanked
// out."
func (tx *Transaction) serializeForID() []byte {
	var buf bytes.Buffer
	writeVarInt(&buf, uint64(len(tx.Vin)))
	for _, in := range tx.Vin {
		buf.Write(in.PrevTxID[:])
		writeUint32(&buf, in.Vout)
		// Signature and public key are blanked for id purposes.
	}
	writeVarInt(&buf, uint64(len(tx.Vout)))
	for _, out := range tx.Vout {
		writeInt64(&buf, out.Value)
		buf.Write(out.PubKeyHash[:])
	}
	return buf.Bytes()
}

// trimmedCopy returns a copy of tx in which every input's signature is
// cleared and every input's PubKey field is replaced with the public-key
// hash of the output it spends, the SIGHASH_ALL-alike message construction
// of spec §4.3. prevOutputs maps a vin index to the TxOutput it spends;
// the coinbase input (if any) is passed through unchanged.
func (tx *Transaction) trimmedCopy(prevOutputs []TxOutput) *Transaction {
	trimmed := &Transaction{
		Vin:  make([]TxInput, len(tx.Vin)),
		Vout: append([]TxOutput(nil), tx.Vout...),
	}
	for i, in := range tx.Vin {
		if in.IsCoinbase() {
			trimmed.Vin[i] = in
			continue
		}
		hash := prevOutputs[i].PubKeyHash
		trimmed.Vin[i] = TxInput{
			PrevTxID: in.PrevTxID,
			Vout:     in.Vout,
			PubKey:   hash[:],
		}
	}
	return trimmed
}

// sigMessage returns the message each input signs: the id of the trimmed
// copy of the transaction.
func sigMessage(trimmed *Transaction) []byte {
	trimmed.SetID()
	return trimmed.ID[:]
}

// PriorOutputLookup resolves the output a TxInput references. Implemented
// by chainstate.Chain in the running node, and by a map in tests.
type PriorOutputLookup interface {
	PriorOutput(txID chainhash.Hash, vout uint32) (TxOutput, error)
}

// Sign signs every non-coinbase input of tx with secret, which must be the
// private key owning the referenced outputs. lookup resolves prior
// outputs so the per-input message (owner's public-key hash) can be built.
func (tx *Transaction) Sign(secret []byte, lookup PriorOutputLookup) error {
	if tx.IsCoinbase() {
		return nil
	}
	prevOutputs := make([]TxOutput, len(tx.Vin))
	for i, in := range tx.Vin {
		if in.IsCoinbase() {
			continue
		}
		out, err := lookup.PriorOutput(in.PrevTxID, in.Vout)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPriorTx, err)
		}
		prevOutputs[i] = out
	}

	trimmed := tx.trimmedCopy(prevOutputs)
	message := sigMessage(trimmed)

	for i := range tx.Vin {
		if tx.Vin[i].IsCoinbase() {
			continue
		}
		sig, err := crypto.Sign(secret, message)
		if err != nil {
			return err
		}
		tx.Vin[i].Signature = sig
	}
	return nil
}

// Verify checks tx against the conservation and signature rules of
// spec §4.3: for a coinbase, only its structural shape is checked; for any
// other transaction, every input's signature must verify against the
// output it claims to spend, and total input value must not be less than
// total output value.
func (tx *Transaction) Verify(lookup PriorOutputLookup) error {
	if tx.IsCoinbase() {
		return nil
	}
	if len(tx.Vin) == 0 {
		return ErrNoInputs
	}
	if len(tx.Vout) == 0 {
		return ErrNoOutputs
	}
	for _, in := range tx.Vin {
		if in.IsCoinbase() {
			return ErrUnexpectedCoinbase
		}
	}

	prevOutputs := make([]TxOutput, len(tx.Vin))
	var totalIn int64
	for i, in := range tx.Vin {
		out, err := lookup.PriorOutput(in.PrevTxID, in.Vout)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPriorTx, err)
		}
		prevOutputs[i] = out
		totalIn += out.Value
	}

	trimmed := tx.trimmedCopy(prevOutputs)
	message := sigMessage(trimmed)

	for i, in := range tx.Vin {
		if !crypto.Verify(in.PubKey, in.Signature, message) {
			return fmt.Errorf("%w: input %d", ErrInvalidSignature, i)
		}
		if !in.UsesKey(prevOutputs[i].PubKeyHash) {
			return fmt.Errorf("%w: input %d does not own referenced output", ErrInvalidSignature, i)
		}
	}

	var totalOut int64
	for _, out := range tx.Vout {
		if out.Value <= 0 {
			return ErrNonPositiveValue
		}
		totalOut += out.Value
	}

	if totalIn < totalOut {
		return ErrConservationBroken
	}
	return nil
}

// NewCoinbaseTx builds the first transaction of a block: one sentinel
// input carrying a random witness datum (so two coinbases mined by the
// same miner in the same block template still differ — spec §4.3), and
// one output paying the subsidy to toPubKeyHash.
func NewCoinbaseTx(toPubKeyHash [32]byte) (*Transaction, error) {
	witness, err := crypto.RandomBytes(20)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Vin: []TxInput{{
			PrevTxID: chainhash.Hash{},
			Vout:     CoinbaseVout,
			PubKey:   witness,
		}},
		Vout: []TxOutput{Lock(Subsidy, toPubKeyHash)},
	}
	tx.SetID()
	return tx, nil
}

// SpendableOutputs is the result of a spendable-output search: the total
// value accumulated, and the set of (txID -> vout indices) selected.
type SpendableOutputs struct {
	Accumulated int64
	Outputs     map[chainhash.Hash][]uint32
}

// SpendableOutputSource is implemented by utxo.Set; it is the abstraction
// NewUTXOTransaction builds spends against.
type SpendableOutputSource interface {
	FindSpendableOutputs(pubKeyHash [32]byte, amount int64) (SpendableOutputs, error)
}

// NewUTXOTransaction implements spec §4.3's new_utxo_transaction: it
// selects spendable outputs owned by from, builds one input per selected
// output, a payment output to the, and — if change remains — a change
// output back to from. It does not sign the inputs; call Sign afterward.
func NewUTXOTransaction(fromPubKey []byte, fromPubKeyHash, toPubKeyHash [32]byte, amount int64, src SpendableOutputSource) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrNonPositiveValue
	}

	spendable, err := src.FindSpendableOutputs(fromPubKeyHash, amount)
	if err != nil {
		return nil, err
	}
	if spendable.Accumulated < amount {
		return nil, ErrInsufficientFunds
	}

	tx := &Transaction{}
	txIDs := make([]chainhash.Hash, 0, len(spendable.Outputs))
	for txID := range spendable.Outputs {
		txIDs = append(txIDs, txID)
	}
	sort.Slice(txIDs, func(i, j int) bool {
		return bytes.Compare(txIDs[i][:], txIDs[j][:]) < 0
	})
	for _, txID := range txIDs {
		vouts := append([]uint32(nil), spendable.Outputs[txID]...)
		sort.Slice(vouts, func(i, j int) bool { return vouts[i] < vouts[j] })
		for _, vout := range vouts {
			tx.Vin = append(tx.Vin, TxInput{
				PrevTxID: txID,
				Vout:     vout,
				PubKey:   fromPubKey,
			})
		}
	}

	tx.Vout = append(tx.Vout, Lock(amount, toPubKeyHash))
	if spendable.Accumulated > amount {
		tx.Vout = append(tx.Vout, Lock(spendable.Accumulated-amount, fromPubKeyHash))
	}

	tx.SetID()
	return tx, nil
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}
