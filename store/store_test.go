package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlockPutGet(t *testing.T) {
	s := openTestStore(t)

	hash := []byte("block-hash-0000000000000000000")
	_, err := s.GetBlock(hash)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutBlock(hash, []byte("payload")))
	data, err := s.GetBlock(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	ok, err := s.HasBlock(hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTipRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTip()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutTip([]byte("genesis-hash")))
	tip, err := s.GetTip()
	require.NoError(t, err)
	require.Equal(t, []byte("genesis-hash"), tip)
}

func TestUTXOEntryLifecycle(t *testing.T) {
	s := openTestStore(t)

	txID := []byte("tx-id-aaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, s.PutUTXOEntry(txID, []byte("outputs")))

	data, err := s.GetUTXOEntry(txID)
	require.NoError(t, err)
	require.Equal(t, []byte("outputs"), data)

	require.NoError(t, s.DeleteUTXOEntry(txID))
	_, err = s.GetUTXOEntry(txID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTruncateAndIterateUTXOTree(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutUTXOEntry([]byte("a"), []byte("1")))
	require.NoError(t, s.PutUTXOEntry([]byte("b"), []byte("2")))

	seen := map[string]string{}
	require.NoError(t, s.IterateUTXOEntries(func(txID, data []byte) error {
		seen[string(txID)] = string(data)
		return nil
	}))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)

	require.NoError(t, s.TruncateUTXOTree())
	seen = map[string]string{}
	require.NoError(t, s.IterateUTXOEntries(func(txID, data []byte) error {
		seen[string(txID)] = string(data)
		return nil
	}))
	require.Empty(t, seen)
}
