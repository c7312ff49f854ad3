// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists pebble's two trees — blocks and chainstate — on
// an ordered key-value store (spec §4.5). goleveldb has no native concept
// of multiple named buckets the way bbolt or sled do, so each tree is a
// separate goleveldb instance under the configured data directory.
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
)

// TipKey is the sentinel key in the blocks tree holding the current tip
// hash.
var TipKey = []byte("TIP")

// ErrNotFound is returned by Get when the key is absent. Per spec §7 this
// is not surfaced to callers that treat a missing block/transaction as
// "none" rather than an error — those callers check errors.Is against
// this value and translate it into a nil result.
var ErrNotFound = errors.New("store: key not found")

// Store is pebble's persistent key-value layer: one goleveldb database
// for mined blocks (keyed by block hash, plus the TIP sentinel), one for
// the UTXO chainstate (keyed by transaction id).
type Store struct {
	blocks     *leveldb.DB
	chainstate *leveldb.DB
}

// Open opens (creating if absent) the blocks and chainstate trees rooted
// at dir.
func Open(dir string) (*Store, error) {
	blocksDB, err := leveldb.OpenFile(filepath.Join(dir, "blocks"), nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening blocks tree: %w", err)
	}
	chainstateDB, err := leveldb.OpenFile(filepath.Join(dir, "chainstate"), nil)
	if err != nil {
		blocksDB.Close()
		return nil, fmt.Errorf("store: opening chainstate tree: %w", err)
	}
	return &Store{blocks: blocksDB, chainstate: chainstateDB}, nil
}

// Close releases both underlying databases.
func (s *Store) Close() error {
	err1 := s.blocks.Close()
	err2 := s.chainstate.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// GetBlock reads the serialized block stored under hash, or ErrNotFound.
func (s *Store) GetBlock(hash []byte) ([]byte, error) {
	return get(s.blocks, hash)
}

// PutBlock writes a serialized block under hash. Each write is a single
// key operation — there is no multi-key transaction (spec §4.5); callers
// in chainstate must tolerate a crash between this call and the TIP
// update that usually follows it, and recover by reindexing.
func (s *Store) PutBlock(hash, data []byte) error {
	if err := s.blocks.Put(hash, data, nil); err != nil {
		return fmt.Errorf("store: writing block: %w", err)
	}
	return nil
}

// HasBlock reports whether a block is already stored under hash.
func (s *Store) HasBlock(hash []byte) (bool, error) {
	ok, err := s.blocks.Has(hash, nil)
	if err != nil {
		return false, fmt.Errorf("store: checking block: %w", err)
	}
	return ok, nil
}

// GetTip reads the current tip hash, or ErrNotFound if the chain has
// never been initialized.
func (s *Store) GetTip() ([]byte, error) {
	return get(s.blocks, TipKey)
}

// PutTip sets the current tip hash.
func (s *Store) PutTip(hash []byte) error {
	if err := s.blocks.Put(TipKey, hash, nil); err != nil {
		return fmt.Errorf("store: writing tip: %w", err)
	}
	return nil
}

// GetUTXOEntry reads the serialized output list for a transaction id, or
// ErrNotFound if every output of that transaction has been spent (or it
// was never unspent to begin with).
func (s *Store) GetUTXOEntry(txID []byte) ([]byte, error) {
	return get(s.chainstate, txID)
}

// PutUTXOEntry writes (or overwrites) the output list for a transaction id.
func (s *Store) PutUTXOEntry(txID, data []byte) error {
	if err := s.chainstate.Put(txID, data, nil); err != nil {
		return fmt.Errorf("store: writing utxo entry: %w", err)
	}
	return nil
}

// DeleteUTXOEntry removes a transaction id's entry once all its outputs
// are spent.
func (s *Store) DeleteUTXOEntry(txID []byte) error {
	if err := s.chainstate.Delete(txID, nil); err != nil {
		return fmt.Errorf("store: deleting utxo entry: %w", err)
	}
	return nil
}

// TruncateUTXOTree deletes every entry in the chainstate tree, the first
// step of utxo.Set.Reindex (spec §4.7).
func (s *Store) TruncateUTXOTree() error {
	iter := s.chainstate.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("store: iterating chainstate tree: %w", err)
	}
	if err := s.chainstate.Write(batch, nil); err != nil {
		return fmt.Errorf("store: truncating chainstate tree: %w", err)
	}
	return nil
}

// IterateUTXOEntries calls fn for every (txID, serialized outputs) pair
// in the chainstate tree, in key order, stopping early if fn returns an
// error.
func (s *Store) IterateUTXOEntries(fn func(txID, data []byte) error) error {
	iter := s.chainstate.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func get(db *leveldb.DB, key []byte) ([]byte, error) {
	v, err := db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: reading key: %w", err)
	}
	return v, nil
}
