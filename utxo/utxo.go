// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxo maintains the incrementally-updated unspent-output index
// described in spec §4.7: apply/rollback under chain (re)organization,
// the in-mempool reservation flag, spendable-output search, balance, and
// full reindex from the best chain.
//
// The table is index-preserving (spec §9): spending output i of a
// transaction tombstones slot i rather than shifting the remaining
// outputs down, so rollback can restore an output at its original vout
// index without needing to know how many sibling outputs were spent
// after it.
package utxo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/decred/dcrd/lru"
	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/store"
)

// ErrSpentOutput is returned when a rollback or lookup references an
// output slot that is a tombstone (already spent, or never populated).
var ErrSpentOutput = errors.New("utxo: output already spent")

// tombstone marks a spent output slot: the zero TxOutput (value 0, zero
// PubKeyHash, flag clear). A real output's Value is always > 0 (spec §3
// invariant), so no unspent output compares equal to it.
var tombstone = ledger.TxOutput{}

// BlockSource is implemented by chainstate.Chain: it resolves a prior
// transaction by id, so Rollback can recover a spent output's original
// value and public-key hash.
type BlockSource interface {
	FindTransaction(id chainhash.Hash) (*ledger.Transaction, error)
}

// Set is pebble's UTXO index, persisted in the store's chainstate tree.
type Set struct {
	store    *store.Store
	resolver BlockSource
	txCache  *lru.Map[chainhash.Hash, []ledger.TxOutput]
}

// New constructs a UTXO index backed by s, resolving prior transactions
// (for rollback) through resolver.
func New(s *store.Store, resolver BlockSource) *Set {
	return &Set{
		store:    s,
		resolver: resolver,
		txCache:  lru.NewMap[chainhash.Hash, []ledger.TxOutput](256),
	}
}

func (u *Set) readEntry(txID chainhash.Hash) ([]ledger.TxOutput, error) {
	if outs, ok := u.txCache.Lookup(txID); ok {
		return append([]ledger.TxOutput(nil), outs...), nil
	}
	data, err := u.store.GetUTXOEntry(txID[:])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("utxo: reading entry for %s: %w", txID, err)
	}
	outs, err := ledger.DeserializeOutputs(data)
	if err != nil {
		return nil, fmt.Errorf("utxo: decoding entry for %s: %w", txID, err)
	}
	return outs, nil
}

func (u *Set) writeEntry(txID chainhash.Hash, outs []ledger.TxOutput) error {
	if allSpent(outs) {
		u.txCache.Delete(txID)
		if err := u.store.DeleteUTXOEntry(txID[:]); err != nil {
			return fmt.Errorf("utxo: deleting entry for %s: %w", txID, err)
		}
		return nil
	}
	u.txCache.Put(txID, append([]ledger.TxOutput(nil), outs...))
	if err := u.store.PutUTXOEntry(txID[:], ledger.SerializeOutputs(outs)); err != nil {
		return fmt.Errorf("utxo: writing entry for %s: %w", txID, err)
	}
	return nil
}

func allSpent(outs []ledger.TxOutput) bool {
	for _, o := range outs {
		if o != tombstone {
			return false
		}
	}
	return true
}

// Apply indexes a newly-appended block: every non-coinbase input's
// referenced output is tombstoned, and every transaction's outputs are
// inserted fresh under its id (spec §4.7).
func (u *Set) Apply(b *block.Block) error {
	for _, tx := range b.Transactions {
		for _, in := range tx.Vin {
			if in.IsCoinbase() {
				continue
			}
			outs, err := u.readEntry(in.PrevTxID)
			if err != nil {
				return err
			}
			if int(in.Vout) >= len(outs) || outs[in.Vout] == tombstone {
				return fmt.Errorf("utxo: applying %s: %w", tx.ID, ErrSpentOutput)
			}
			outs[in.Vout] = tombstone
			if err := u.writeEntry(in.PrevTxID, outs); err != nil {
				return err
			}
		}
		if err := u.writeEntry(tx.ID, append([]ledger.TxOutput(nil), tx.Vout...)); err != nil {
			return err
		}
	}
	return nil
}

// Rollback undoes Apply for a block being removed from the best chain
// (during reorg), processed in reverse transaction order: each
// transaction's own outputs are removed, and every input's spent output
// is restored at its original index by re-reading the referenced prior
// transaction (still present in the block store) and reinserting
// vout[i] (spec §4.7).
func (u *Set) Rollback(b *block.Block) error {
	for i := len(b.Transactions) - 1; i >= 0; i-- {
		tx := b.Transactions[i]

		if err := u.store.DeleteUTXOEntry(tx.ID[:]); err != nil {
			return fmt.Errorf("utxo: rolling back %s: %w", tx.ID, err)
		}
		u.txCache.Delete(tx.ID)

		for _, in := range tx.Vin {
			if in.IsCoinbase() {
				continue
			}
			prevTx, err := u.resolver.FindTransaction(in.PrevTxID)
			if err != nil {
				return fmt.Errorf("utxo: resolving %s during rollback: %w", in.PrevTxID, err)
			}
			if prevTx == nil || int(in.Vout) >= len(prevTx.Vout) {
				return fmt.Errorf("utxo: rollback: %w", ErrSpentOutput)
			}

			outs, err := u.readEntry(in.PrevTxID)
			if err != nil {
				return err
			}
			for len(outs) <= int(in.Vout) {
				outs = append(outs, tombstone)
			}
			outs[in.Vout] = prevTx.Vout[in.Vout]
			if err := u.writeEntry(in.PrevTxID, outs); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetMempoolFlag sets or clears the in-mempool reservation flag on every
// output tx's inputs reference. It is idempotent (spec §4.8).
func (u *Set) SetMempoolFlag(tx *ledger.Transaction, flag bool) error {
	touched := map[chainhash.Hash][]ledger.TxOutput{}
	for _, in := range tx.Vin {
		if in.IsCoinbase() {
			continue
		}
		outs, ok := touched[in.PrevTxID]
		if !ok {
			var err error
			outs, err = u.readEntry(in.PrevTxID)
			if err != nil {
				return err
			}
		}
		if int(in.Vout) < len(outs) && outs[in.Vout] != tombstone {
			outs[in.Vout].InMempool = flag
		}
		touched[in.PrevTxID] = outs
	}
	for txID, outs := range touched {
		if err := u.writeEntry(txID, outs); err != nil {
			return err
		}
	}
	return nil
}

// FindSpendableOutputs implements spec §4.3's selection rule: iterate the
// UTXO table in deterministic (txID-then-vout) order, accepting outputs
// that are unreserved, positive-valued, and owned by pubKeyHash, until
// the accumulated value reaches amount.
func (u *Set) FindSpendableOutputs(pubKeyHash [32]byte, amount int64) (ledger.SpendableOutputs, error) {
	result := ledger.SpendableOutputs{Outputs: map[chainhash.Hash][]uint32{}}

	type entry struct {
		txID chainhash.Hash
		outs []ledger.TxOutput
	}
	var entries []entry
	err := u.store.IterateUTXOEntries(func(txIDBytes, data []byte) error {
		txID, err := chainhash.NewHash(txIDBytes)
		if err != nil {
			return fmt.Errorf("utxo: bad key in chainstate tree: %w", err)
		}
		outs, err := ledger.DeserializeOutputs(data)
		if err != nil {
			return fmt.Errorf("utxo: decoding entry for %s: %w", txID, err)
		}
		entries = append(entries, entry{txID: txID, outs: outs})
		return nil
	})
	if err != nil {
		return result, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return lessHash(entries[i].txID, entries[j].txID)
	})

	for _, e := range entries {
		if result.Accumulated >= amount {
			break
		}
		for idx, out := range e.outs {
			if result.Accumulated >= amount {
				break
			}
			if out == tombstone {
				continue
			}
			if !out.InMempool && out.Value > 0 && out.IsLockedWith(pubKeyHash) {
				result.Accumulated += out.Value
				result.Outputs[e.txID] = append(result.Outputs[e.txID], uint32(idx))
			}
		}
	}
	return result, nil
}

// FindUTXOs enumerates every unspent output locked to pubKeyHash.
func (u *Set) FindUTXOs(pubKeyHash [32]byte) ([]ledger.TxOutput, error) {
	var found []ledger.TxOutput
	err := u.store.IterateUTXOEntries(func(_ []byte, data []byte) error {
		outs, err := ledger.DeserializeOutputs(data)
		if err != nil {
			return err
		}
		for _, out := range outs {
			if out != tombstone && out.IsLockedWith(pubKeyHash) {
				found = append(found, out)
			}
		}
		return nil
	})
	return found, err
}

// Balance sums the value of every UTXO locked to pubKeyHash.
func (u *Set) Balance(pubKeyHash [32]byte) (int64, error) {
	outs, err := u.FindUTXOs(pubKeyHash)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, out := range outs {
		total += out.Value
	}
	return total, nil
}

// Reindex truncates the chainstate tree and replays chainBlocks (the best
// chain, genesis first), rebuilding the index from scratch. It is
// exposed for crash recovery (spec §4.5, §4.6) and for tests of the
// reindex-fixed-point invariant.
func (u *Set) Reindex(chainBlocks []*block.Block) error {
	if err := u.store.TruncateUTXOTree(); err != nil {
		return err
	}
	u.txCache = lru.NewMap[chainhash.Hash, []ledger.TxOutput](256)
	for _, b := range chainBlocks {
		if err := u.Apply(b); err != nil {
			return fmt.Errorf("utxo: reindexing block %s: %w", b.Header.Hash, err)
		}
	}
	return nil
}

func lessHash(a, b chainhash.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
