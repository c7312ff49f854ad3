// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainstate implements pebble's chain engine: genesis creation,
// block append with fork detection and reorganization, transaction lookup,
// and the block iterator (spec §4.6).
package chainstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/lru"
	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/store"
	"github.com/pebblechain/pebble/utxo"
)

// ErrAlreadyInitialized is returned by Initialize when the store already
// has a tip.
var ErrAlreadyInitialized = errors.New("chainstate: already initialized")

// ErrNotInitialized is returned by operations that require a tip before
// one has been established.
var ErrNotInitialized = errors.New("chainstate: chain not initialized")

// Chain is pebble's tip-tracking, reorg-aware chain engine. Its UTXO
// index is an embedded utxo.Set configured with Chain itself as the
// BlockSource resolving prior transactions during rollback.
type Chain struct {
	store *store.Store
	utxo  *utxo.Set

	// appendMu serializes AddBlock for its full duration (spec §5): reorgs
	// never interleave with each other or with a concurrent extension.
	appendMu sync.Mutex

	txCache *lru.Map[chainhash.Hash, *ledger.Transaction]
}

// New wraps an opened store in a Chain. Call Initialize or load an
// existing tip before using it.
func New(s *store.Store) *Chain {
	c := &Chain{
		store:   s,
		txCache: lru.NewMap[chainhash.Hash, *ledger.Transaction](1024),
	}
	c.utxo = utxo.New(s, c)
	return c
}

// UTXO returns the chain's embedded UTXO index, for callers (node,
// restapi) that need balance/spendable-output queries.
func (c *Chain) UTXO() *utxo.Set {
	return c.utxo
}

// Initialize creates the genesis block — a single coinbase transaction
// paying minerPubKeyHash — and writes it as TIP (spec §4.6).
func (c *Chain) Initialize(minerPubKeyHash [32]byte) (*block.Block, error) {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	if _, err := c.store.GetTip(); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	coinbase, err := ledger.NewCoinbaseTx(minerPubKeyHash)
	if err != nil {
		return nil, fmt.Errorf("chainstate: building genesis coinbase: %w", err)
	}
	genesis, err := block.New(chainhash.Hash{}, 0, []*ledger.Transaction{coinbase})
	if err != nil {
		return nil, fmt.Errorf("chainstate: mining genesis block: %w", err)
	}

	if err := c.store.PutBlock(genesis.Header.Hash[:], genesis.Serialize()); err != nil {
		return nil, err
	}
	if err := c.utxo.Apply(genesis); err != nil {
		return nil, err
	}
	if err := c.store.PutTip(genesis.Header.Hash[:]); err != nil {
		return nil, err
	}
	return genesis, nil
}

// Height reads TIP and returns its block height.
func (c *Chain) Height() (int32, error) {
	tip, err := c.tipBlock()
	if err != nil {
		return 0, err
	}
	return tip.Header.Height, nil
}

// Tip returns the current tip block.
func (c *Chain) Tip() (*block.Block, error) {
	return c.tipBlock()
}

func (c *Chain) tipBlock() (*block.Block, error) {
	tipHash, err := c.store.GetTip()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return c.loadBlock(tipHash)
}

func (c *Chain) loadBlock(hash []byte) (*block.Block, error) {
	data, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	return block.Deserialize(data)
}

// HasBlock reports whether hash is already stored, regardless of whether
// it is on the best chain.
func (c *Chain) HasBlock(hash chainhash.Hash) (bool, error) {
	return c.store.HasBlock(hash[:])
}

// AddBlock appends a block to the store and, if it extends or beats the
// current best chain, updates the UTXO index and TIP — rolling back and
// rolling forward across a fork when necessary (spec §4.6). The whole
// call is serialized by appendMu so a reorg is never interrupted by a
// concurrent AddBlock.
func (c *Chain) AddBlock(b *block.Block) error {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	have, err := c.store.HasBlock(b.Header.Hash[:])
	if err != nil {
		return err
	}
	if have {
		return nil
	}

	if err := c.store.PutBlock(b.Header.Hash[:], b.Serialize()); err != nil {
		return err
	}

	tip, err := c.tipBlock()
	if err != nil {
		if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		// No tip yet: treat b as the chain's first block.
		if err := c.utxo.Apply(b); err != nil {
			return err
		}
		return c.store.PutTip(b.Header.Hash[:])
	}

	if b.Header.Height <= tip.Header.Height {
		// Stored for possible future extension; TIP does not change.
		return nil
	}

	if b.Header.PrevHash == tip.Header.Hash {
		if err := c.utxo.Apply(b); err != nil {
			return err
		}
		c.cacheBlockTxs(b)
		log.Debugf("extended best chain to height %d with block %v", b.Header.Height, b.Header.Hash)
		return c.store.PutTip(b.Header.Hash[:])
	}

	log.Infof("chain reorganization triggered: current tip %v at height %d, candidate %v at height %d",
		tip.Header.Hash, tip.Header.Height, b.Header.Hash, b.Header.Height)
	return c.reorganize(tip, b)
}

// reorganize walks both branches back to their common ancestor, rolls
// back the losing branch down to (excluding) the ancestor, then rolls
// forward along the winning branch from the ancestor to newTip.
func (c *Chain) reorganize(oldTip, newTip *block.Block) error {
	oldChain, err := c.walkToGenesis(oldTip)
	if err != nil {
		return fmt.Errorf("chainstate: reorg: walking old chain: %w", err)
	}
	newChain, err := c.walkToGenesis(newTip)
	if err != nil {
		return fmt.Errorf("chainstate: reorg: walking new chain: %w", err)
	}

	oldIndex := make(map[chainhash.Hash]int, len(oldChain))
	for i, blk := range oldChain {
		oldIndex[blk.Header.Hash] = i
	}

	ancestorPos := -1
	newPos := len(newChain)
	for i, blk := range newChain {
		if pos, ok := oldIndex[blk.Header.Hash]; ok {
			ancestorPos = pos
			newPos = i
			break
		}
	}
	if ancestorPos == -1 {
		return fmt.Errorf("chainstate: reorg: no common ancestor between %s and %s", oldTip.Header.Hash, newTip.Header.Hash)
	}

	// oldChain is ordered tip-first; roll back everything above the
	// ancestor, tip first, as spec §4.7 requires.
	for _, blk := range oldChain[:ancestorPos] {
		if err := c.utxo.Rollback(blk); err != nil {
			return fmt.Errorf("chainstate: reorg: rolling back %s: %w", blk.Header.Hash, err)
		}
	}
	// The rolled-back blocks' transactions are no longer on the best
	// chain; drop them from the lookup cache.
	for _, blk := range oldChain[:ancestorPos] {
		for _, tx := range blk.Transactions {
			c.txCache.Delete(tx.ID)
		}
	}

	// newChain is also ordered tip-first; apply ancestor-to-tip, so walk
	// it in reverse.
	for i := newPos - 1; i >= 0; i-- {
		blk := newChain[i]
		if err := c.utxo.Apply(blk); err != nil {
			return fmt.Errorf("chainstate: reorg: applying %s: %w", blk.Header.Hash, err)
		}
	}

	return c.store.PutTip(newTip.Header.Hash[:])
}

// walkToGenesis returns the chain from from back to genesis, inclusive,
// ordered from from (index 0) to genesis (last index).
func (c *Chain) walkToGenesis(from *block.Block) ([]*block.Block, error) {
	chain := []*block.Block{from}
	cur := from
	for cur.Header.Height > 0 {
		prev, err := c.loadBlock(cur.Header.PrevHash[:])
		if err != nil {
			return nil, err
		}
		chain = append(chain, prev)
		cur = prev
	}
	return chain, nil
}

func (c *Chain) cacheBlockTxs(b *block.Block) {
	for _, tx := range b.Transactions {
		c.txCache.Put(tx.ID, tx)
	}
}

// FindTransaction iterates blocks from tip toward genesis looking for a
// transaction with the given id (spec §4.6). It returns (nil, nil) if no
// such transaction exists on the best chain — per spec, "not found" is
// never an error.
func (c *Chain) FindTransaction(id chainhash.Hash) (*ledger.Transaction, error) {
	if tx, ok := c.txCache.Lookup(id); ok {
		return tx, nil
	}
	tip, err := c.tipBlock()
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return nil, nil
		}
		return nil, err
	}
	for cur := tip; ; {
		for _, tx := range cur.Transactions {
			if tx.ID == id {
				c.txCache.Put(tx.ID, tx)
				return tx, nil
			}
		}
		if cur.Header.Height == 0 {
			return nil, nil
		}
		cur, err = c.loadBlock(cur.Header.PrevHash[:])
		if err != nil {
			return nil, err
		}
	}
}

// PriorOutput resolves the output an input references by locating its
// transaction on the best chain, satisfying ledger.PriorOutputLookup.
func (c *Chain) PriorOutput(txID chainhash.Hash, vout uint32) (ledger.TxOutput, error) {
	tx, err := c.FindTransaction(txID)
	if err != nil {
		return ledger.TxOutput{}, err
	}
	if tx == nil {
		return ledger.TxOutput{}, fmt.Errorf("chainstate: %w: %s", ledger.ErrUnknownPriorTx, txID)
	}
	if int(vout) >= len(tx.Vout) {
		return ledger.TxOutput{}, fmt.Errorf("chainstate: %w: %s:%d", ledger.ErrUnknownPriorOutput, txID, vout)
	}
	return tx.Vout[vout], nil
}

// Iterator walks blocks tip-first toward genesis, one call to Next per
// block, matching the restartability the source's blockchain iterator
// relies on: the store is immutable for existing keys, so resuming from
// any previously-seen hash is always safe.
type Iterator struct {
	chain *Chain
	next  chainhash.Hash
	done  bool
}

// Iterator returns a fresh tip-first iterator over the best chain.
func (c *Chain) Iterator() (*Iterator, error) {
	tip, err := c.tipBlock()
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return &Iterator{chain: c, done: true}, nil
		}
		return nil, err
	}
	return &Iterator{chain: c, next: tip.Header.Hash}, nil
}

// Next returns the next block in tip-to-genesis order, or (nil, false) once
// genesis has been consumed.
func (it *Iterator) Next() (*block.Block, bool, error) {
	if it.done {
		return nil, false, nil
	}
	b, err := it.chain.loadBlock(it.next[:])
	if err != nil {
		return nil, false, err
	}
	if b.Header.Height == 0 {
		it.done = true
	} else {
		it.next = b.Header.PrevHash
	}
	return b, true, nil
}

// Reindex truncates and rebuilds the UTXO index by replaying the best
// chain from genesis to tip, for crash recovery and for the
// reindex-fixed-point invariant (spec §4.6, §8).
func (c *Chain) Reindex() error {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	tip, err := c.tipBlock()
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return nil
		}
		return err
	}
	chain, err := c.walkToGenesis(tip)
	if err != nil {
		return err
	}
	// chain is tip-first; Reindex applies genesis-to-tip.
	forward := make([]*block.Block, len(chain))
	for i, blk := range chain {
		forward[len(chain)-1-i] = blk
	}
	return c.utxo.Reindex(forward)
}
