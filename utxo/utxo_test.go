package utxo

import (
	"testing"

	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/store"
	"github.com/stretchr/testify/require"
)

// blockIndex is a minimal BlockSource backed by an in-memory map, enough
// to exercise Rollback without pulling in the chainstate package.
type blockIndex struct {
	txs map[chainhash.Hash]*ledger.Transaction
}

func newBlockIndex() *blockIndex {
	return &blockIndex{txs: map[chainhash.Hash]*ledger.Transaction{}}
}

func (b *blockIndex) index(blk *block.Block) {
	for _, tx := range blk.Transactions {
		b.txs[tx.ID] = tx
	}
}

func (b *blockIndex) FindTransaction(id chainhash.Hash) (*ledger.Transaction, error) {
	tx, ok := b.txs[id]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

func openTestSet(t *testing.T) (*Set, *store.Store, *blockIndex) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	idx := newBlockIndex()
	return New(s, idx), s, idx
}

func mustKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func mineBlock(t *testing.T, prevHash chainhash.Hash, height int32, toHash [32]byte, txs ...*ledger.Transaction) *block.Block {
	t.Helper()
	coinbase, err := ledger.NewCoinbaseTx(toHash)
	require.NoError(t, err)
	all := append([]*ledger.Transaction{coinbase}, txs...)
	b, err := block.New(prevHash, height, all)
	require.NoError(t, err)
	return b
}

func TestApplyIndexesCoinbaseOutputs(t *testing.T) {
	u, _, idx := openTestSet(t)
	kp := mustKeyPair(t)
	pkh := crypto.PubKeyHash(kp.PublicKey[:])

	b := mineBlock(t, chainhash.Hash{}, 1, pkh)
	idx.index(b)
	require.NoError(t, u.Apply(b))

	bal, err := u.Balance(pkh)
	require.NoError(t, err)
	require.Equal(t, ledger.Subsidy, bal)
}

func TestApplyThenSpendTombstonesOutput(t *testing.T) {
	u, _, idx := openTestSet(t)
	minerKey := mustKeyPair(t)
	minerHash := crypto.PubKeyHash(minerKey.PublicKey[:])
	receiverKey := mustKeyPair(t)
	receiverHash := crypto.PubKeyHash(receiverKey.PublicKey[:])

	genesis := mineBlock(t, chainhash.Hash{}, 1, minerHash)
	idx.index(genesis)
	require.NoError(t, u.Apply(genesis))

	spendable, err := u.FindSpendableOutputs(minerHash, ledger.Subsidy)
	require.NoError(t, err)
	require.Equal(t, ledger.Subsidy, spendable.Accumulated)

	spend, err := ledger.NewUTXOTransaction(minerKey.PublicKey[:], minerHash, receiverHash, ledger.Subsidy, spendableSource{u})
	require.NoError(t, err)
	require.NoError(t, spend.Sign(minerKey.Secret[:], lookupAdapter{u}))

	next := mineBlock(t, genesis.Header.Hash, 2, receiverHash, spend)
	idx.index(next)
	require.NoError(t, u.Apply(next))

	minerBal, err := u.Balance(minerHash)
	require.NoError(t, err)
	require.Zero(t, minerBal)

	receiverBal, err := u.Balance(receiverHash)
	require.NoError(t, err)
	require.Equal(t, 2*ledger.Subsidy, receiverBal) // next's coinbase + the spend
}

func TestRollbackRestoresSpentOutput(t *testing.T) {
	u, _, idx := openTestSet(t)
	minerKey := mustKeyPair(t)
	minerHash := crypto.PubKeyHash(minerKey.PublicKey[:])
	receiverKey := mustKeyPair(t)
	receiverHash := crypto.PubKeyHash(receiverKey.PublicKey[:])

	genesis := mineBlock(t, chainhash.Hash{}, 1, minerHash)
	idx.index(genesis)
	require.NoError(t, u.Apply(genesis))

	spendable, err := u.FindSpendableOutputs(minerHash, ledger.Subsidy)
	require.NoError(t, err)
	spend, err := ledger.NewUTXOTransaction(minerKey.PublicKey[:], minerHash, receiverHash, ledger.Subsidy, spendableSource{u})
	require.NoError(t, err)
	require.NoError(t, spend.Sign(minerKey.Secret[:], lookupAdapter{u}))
	_ = spendable

	next := mineBlock(t, genesis.Header.Hash, 2, receiverHash, spend)
	idx.index(next)
	require.NoError(t, u.Apply(next))

	require.NoError(t, u.Rollback(next))

	minerBal, err := u.Balance(minerHash)
	require.NoError(t, err)
	require.Equal(t, ledger.Subsidy, minerBal)

	receiverBal, err := u.Balance(receiverHash)
	require.NoError(t, err)
	require.Zero(t, receiverBal)
}

func TestSetMempoolFlagExcludesReservedOutputs(t *testing.T) {
	u, _, idx := openTestSet(t)
	minerKey := mustKeyPair(t)
	minerHash := crypto.PubKeyHash(minerKey.PublicKey[:])
	receiverKey := mustKeyPair(t)
	receiverHash := crypto.PubKeyHash(receiverKey.PublicKey[:])

	genesis := mineBlock(t, chainhash.Hash{}, 1, minerHash)
	idx.index(genesis)
	require.NoError(t, u.Apply(genesis))

	spend, err := ledger.NewUTXOTransaction(minerKey.PublicKey[:], minerHash, receiverHash, ledger.Subsidy, spendableSource{u})
	require.NoError(t, err)
	require.NoError(t, spend.Sign(minerKey.Secret[:], lookupAdapter{u}))

	require.NoError(t, u.SetMempoolFlag(spend, true))

	spendable, err := u.FindSpendableOutputs(minerHash, ledger.Subsidy)
	require.NoError(t, err)
	require.Zero(t, spendable.Accumulated)

	require.NoError(t, u.SetMempoolFlag(spend, false))
	spendable, err = u.FindSpendableOutputs(minerHash, ledger.Subsidy)
	require.NoError(t, err)
	require.Equal(t, ledger.Subsidy, spendable.Accumulated)
}

func TestReindexIsFixedPoint(t *testing.T) {
	u, _, idx := openTestSet(t)
	minerKey := mustKeyPair(t)
	minerHash := crypto.PubKeyHash(minerKey.PublicKey[:])

	genesis := mineBlock(t, chainhash.Hash{}, 1, minerHash)
	idx.index(genesis)
	require.NoError(t, u.Apply(genesis))

	before, err := u.Balance(minerHash)
	require.NoError(t, err)

	require.NoError(t, u.Reindex([]*block.Block{genesis}))

	after, err := u.Balance(minerHash)
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.NoError(t, u.Reindex([]*block.Block{genesis}))
	again, err := u.Balance(minerHash)
	require.NoError(t, err)
	require.Equal(t, after, again)
}

// spendableSource and lookupAdapter bridge utxo.Set to the
// ledger.SpendableOutputSource / ledger.PriorOutputLookup interfaces used
// when constructing and signing transactions in these tests.
type spendableSource struct{ u *Set }

func (s spendableSource) FindSpendableOutputs(pubKeyHash [32]byte, amount int64) (ledger.SpendableOutputs, error) {
	return s.u.FindSpendableOutputs(pubKeyHash, amount)
}

type lookupAdapter struct{ u *Set }

func (l lookupAdapter) PriorOutput(txID chainhash.Hash, vout uint32) (ledger.TxOutput, error) {
	outs, err := l.u.readEntry(txID)
	if err != nil {
		return ledger.TxOutput{}, err
	}
	if int(vout) >= len(outs) {
		return ledger.TxOutput{}, ledger.ErrUnknownPriorOutput
	}
	return outs[vout], nil
}
