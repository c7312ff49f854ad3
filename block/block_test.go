package block

import (
	"testing"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/ledger"
	"github.com/stretchr/testify/require"
)

func mustCoinbase(t *testing.T) *ledger.Transaction {
	t.Helper()
	var hash [32]byte
	tx, err := ledger.NewCoinbaseTx(hash)
	require.NoError(t, err)
	return tx
}

func TestNewBlockSatisfiesProofOfWork(t *testing.T) {
	coinbase := mustCoinbase(t)
	b, err := New(chainhash.Hash{}, 1, []*ledger.Transaction{coinbase})
	require.NoError(t, err)
	require.NoError(t, b.VerifyProofOfWork())
	require.NoError(t, b.VerifyShape())
}

func TestNewBlockRejectsMissingCoinbase(t *testing.T) {
	notCoinbase := &ledger.Transaction{Vin: []ledger.TxInput{{Vout: 0}}}
	notCoinbase.SetID()
	_, err := New(chainhash.Hash{}, 1, []*ledger.Transaction{notCoinbase})
	require.ErrorIs(t, err, ErrFirstTxNotCoinbase)
}

func TestVerifyProofOfWorkDetectsTamperedHash(t *testing.T) {
	coinbase := mustCoinbase(t)
	b, err := New(chainhash.Hash{}, 1, []*ledger.Transaction{coinbase})
	require.NoError(t, err)

	b.Header.Hash[0] ^= 0xff
	require.ErrorIs(t, b.VerifyProofOfWork(), ErrHeaderHashMismatch)
}

func TestBlockSerializeRoundTrip(t *testing.T) {
	coinbase := mustCoinbase(t)
	b, err := New(chainhash.Hash{}, 1, []*ledger.Transaction{coinbase})
	require.NoError(t, err)

	data := b.Serialize()
	decoded, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, b.Header, decoded.Header)
	require.Len(t, decoded.Transactions, 1)
	require.Equal(t, b.Transactions[0].ID, decoded.Transactions[0].ID)
}
