// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements pebble's pending-transaction pool (spec
// §4.8): a deduplicated map of not-yet-mined transactions, guarded by a
// single reader-writer lock in the style of the teacher's TxPool.
//
// The pool owns only its own map. Pairing an add/remove with the UTXO
// index's in-mempool flag is the orchestrator's job (spec §4.11) — the
// pool itself never calls into utxo.Set, so the two components stay
// decoupled.
package mempool

import (
	"sync"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/ledger"
)

// Pool is pebble's mempool: a tx_id_hex → Transaction map, safe for
// concurrent access.
type Pool struct {
	mtx sync.RWMutex
	txs map[chainhash.Hash]*ledger.Transaction
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{txs: make(map[chainhash.Hash]*ledger.Transaction)}
}

// Contains reports whether id is already in the pool.
func (p *Pool) Contains(id chainhash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	_, ok := p.txs[id]
	return ok
}

// Add inserts tx, keyed by its id. Idempotent: re-adding an already
// present transaction is a no-op (spec §4.8).
func (p *Pool) Add(tx *ledger.Transaction) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if _, ok := p.txs[tx.ID]; ok {
		return
	}
	p.txs[tx.ID] = tx
	log.Debugf("accepted transaction %v into mempool (%d total)", tx.ID, len(p.txs))
}

// Remove evicts tx from the pool, if present.
func (p *Pool) Remove(tx *ledger.Transaction) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.txs, tx.ID)
}

// Get returns the pooled transaction with the given id, or nil if absent.
func (p *Pool) Get(id chainhash.Hash) *ledger.Transaction {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.txs[id]
}

// GetAll returns a snapshot slice of every pooled transaction. The order
// is unspecified.
func (p *Pool) GetAll() []*ledger.Transaction {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	all := make([]*ledger.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		all = append(all, tx)
	}
	return all
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return len(p.txs)
}
