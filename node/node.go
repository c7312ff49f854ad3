// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package node implements pebble's central policy (spec §4.11):
// transaction submission and mining, tying together chainstate, the
// mempool, the peer registry, and gossip. It replaces the source's
// global mutable singletons with a single explicit Context value, holding
// handles to each component, constructed once at startup (spec §9's
// redesign of "global singletons").
package node

import (
	"errors"
	"fmt"

	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/mempool"
	"github.com/pebblechain/pebble/peer"
	"github.com/pebblechain/pebble/wire"
)

// ErrMiningDisabled is returned by Mine/MineEmptyBlock when the node is
// not configured as a miner.
var ErrMiningDisabled = errors.New("node: mining is disabled for this node")

// Broadcaster announces new inventory to the network. p2pserver.Server
// implements this; Context never dials a connection itself, so node stays
// free of any networking import.
type Broadcaster interface {
	BroadcastInv(kind wire.InvKind, id chainhash.Hash, exclude ...string)
}

// Config is the immutable configuration every component shares (spec §4
// "All components share an immutable configuration").
type Config struct {
	ListenAddr      string
	MinerPubKeyHash [32]byte
	IsMiner         bool
	IsSeed          bool
	MiningThreshold int
}

// Context is the orchestration layer tying chainstate, mempool, and peers
// together. It is constructed once at startup and handed to the REST and
// P2P surfaces as a shared handle.
type Context struct {
	Chain   *chainstate.Chain
	Mempool *mempool.Pool
	Peers   *peer.Registry
	Config  Config

	broadcaster Broadcaster
}

// NewContext wires the three components under one orchestration surface.
// The broadcaster is normally set afterward via SetBroadcaster once the
// network server (which itself needs a *Context) has been constructed.
func NewContext(chain *chainstate.Chain, pool *mempool.Pool, peers *peer.Registry, cfg Config) *Context {
	return &Context{Chain: chain, Mempool: pool, Peers: peers, Config: cfg}
}

// SetBroadcaster installs the network layer's inventory broadcaster.
func (c *Context) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

// SubmitTransaction implements spec §4.11's submit_transaction: dedupe,
// validate, reserve inputs, gossip, and — if this node is a miner whose
// pool has crossed the mining threshold — mine.
func (c *Context) SubmitTransaction(tx *ledger.Transaction, senderAddr string) (duplicate bool, err error) {
	if c.Mempool.Contains(tx.ID) {
		return true, nil
	}
	if err := tx.Verify(c.Chain); err != nil {
		return false, fmt.Errorf("node: rejecting transaction %s: %w", tx.ID, err)
	}

	c.Mempool.Add(tx)
	if err := c.Chain.UTXO().SetMempoolFlag(tx, true); err != nil {
		return false, err
	}

	if c.Config.IsSeed && c.broadcaster != nil {
		c.broadcaster.BroadcastInv(wire.InvTx, tx.ID, senderAddr, c.Config.ListenAddr)
	}

	if c.Config.IsMiner && c.Mempool.Len() >= c.Config.MiningThreshold {
		log.Debugf("mempool reached mining threshold (%d); mining a block", c.Config.MiningThreshold)
		if _, err := c.Mine(); err != nil {
			return false, fmt.Errorf("node: mining trigger after submitting %s: %w", tx.ID, err)
		}
	}
	return false, nil
}

// Mine implements spec §4.11's mining procedure: snapshot the mempool,
// prepend a coinbase, mine a block atop the current tip, append it, and
// clear every included transaction's mempool membership.
func (c *Context) Mine() (*block.Block, error) {
	if !c.Config.IsMiner {
		return nil, ErrMiningDisabled
	}
	pending := c.Mempool.GetAll()

	b, err := c.mineBlock(pending, c.Config.MinerPubKeyHash)
	if err != nil {
		return nil, err
	}

	for _, tx := range pending {
		c.Mempool.Remove(tx)
		if err := c.Chain.UTXO().SetMempoolFlag(tx, false); err != nil {
			return nil, fmt.Errorf("node: clearing mempool flag for %s: %w", tx.ID, err)
		}
	}
	return b, nil
}

// MineEmptyBlock mines a block containing only the coinbase, bypassing
// the mempool — the AdminQuery "mine-empty-block" operation (spec §4.10).
// Like Mine, it is only available on a miner node.
func (c *Context) MineEmptyBlock() (*block.Block, error) {
	if !c.Config.IsMiner {
		return nil, ErrMiningDisabled
	}
	return c.mineBlock(nil, c.Config.MinerPubKeyHash)
}

// GenerateToAddress mines n empty blocks with their coinbase locked to
// pubKeyHash rather than the node's configured mining address — the REST
// surface's POST /mining/generatetoaddress, available to the admin role
// regardless of whether this node is configured as a miner (spec §6's
// "mining-address via config or admin role").
func (c *Context) GenerateToAddress(pubKeyHash [32]byte, n int) ([]*block.Block, error) {
	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		b, err := c.mineBlock(nil, pubKeyHash)
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Context) mineBlock(pending []*ledger.Transaction, minerPubKeyHash [32]byte) (*block.Block, error) {
	tip, err := c.Chain.Tip()
	if err != nil {
		return nil, fmt.Errorf("node: mining: %w", err)
	}
	coinbase, err := ledger.NewCoinbaseTx(minerPubKeyHash)
	if err != nil {
		return nil, fmt.Errorf("node: building coinbase: %w", err)
	}

	txs := make([]*ledger.Transaction, 0, len(pending)+1)
	txs = append(txs, coinbase)
	txs = append(txs, pending...)

	b, err := block.New(tip.Header.Hash, tip.Header.Height+1, txs)
	if err != nil {
		return nil, fmt.Errorf("node: assembling block: %w", err)
	}
	if err := c.Chain.AddBlock(b); err != nil {
		return nil, fmt.Errorf("node: appending mined block: %w", err)
	}
	log.Infof("mined block %v at height %d with %d transaction(s)", b.Header.Hash, b.Header.Height, len(txs))
	if c.broadcaster != nil {
		c.broadcaster.BroadcastInv(wire.InvBlock, b.Header.Hash, c.Config.ListenAddr)
	}
	return b, nil
}

// Balance returns the spendable balance locked to pubKeyHash.
func (c *Context) Balance(pubKeyHash [32]byte) (int64, error) {
	return c.Chain.UTXO().Balance(pubKeyHash)
}

// Height returns the current chain height.
func (c *Context) Height() (int32, error) {
	return c.Chain.Height()
}

// Reindex rebuilds the UTXO index from the best chain.
func (c *Context) Reindex() error {
	return c.Chain.Reindex()
}

// Blocks returns up to limit blocks from the best chain, tip first. A
// limit of 0 returns every block. It backs the REST surface's
// GET /blockchain/blocks and /blockchain/blocks/latest endpoints.
func (c *Context) Blocks(limit int) ([]*block.Block, error) {
	it, err := c.Chain.Iterator()
	if err != nil {
		return nil, err
	}
	var out []*block.Block
	for {
		b, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
}

// BlockByHash returns the block with the given hash, or nil if the best
// chain has no such block (spec §7's "NotFound ⇒ None, never an error").
func (c *Context) BlockByHash(hash chainhash.Hash) (*block.Block, error) {
	have, err := c.Chain.HasBlock(hash)
	if err != nil || !have {
		return nil, err
	}
	it, err := c.Chain.Iterator()
	if err != nil {
		return nil, err
	}
	for {
		b, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if b.Header.Hash == hash {
			return b, nil
		}
	}
}

// AllTransactions returns every transaction on the best chain, tip toward
// genesis — backing the AdminQuery "all-transactions" operation.
func (c *Context) AllTransactions() ([]*ledger.Transaction, error) {
	it, err := c.Chain.Iterator()
	if err != nil {
		return nil, err
	}
	var all []*ledger.Transaction
	for {
		b, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return all, nil
		}
		all = append(all, b.Transactions...)
	}
}
