package ledger

import (
	"testing"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/crypto"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeLookup resolves prior outputs from an in-memory map, standing in
// for chainstate.Chain in unit tests.
type fakeLookup map[chainhash.Hash][]TxOutput

func (f fakeLookup) PriorOutput(txID chainhash.Hash, vout uint32) (TxOutput, error) {
	outs, ok := f[txID]
	if !ok || int(vout) >= len(outs) {
		return TxOutput{}, ErrUnknownPriorOutput
	}
	return outs[vout], nil
}

func TestCoinbaseIsCoinbase(t *testing.T) {
	var hash [32]byte
	tx, err := NewCoinbaseTx(hash)
	require.NoError(t, err)
	require.True(t, tx.IsCoinbase())
	require.Equal(t, Subsidy, tx.Vout[0].Value)
}

func TestIDDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var hash [32]byte
		copy(hash[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hash"))
		tx, err := NewCoinbaseTx(hash)
		require.NoError(t, err)

		before := tx.ID
		tx.SetID()
		require.Equal(t, before, tx.ID)
	})
}

func TestSpendSignVerifyRoundTrip(t *testing.T) {
	from, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	fromHash := crypto.PubKeyHash(from.PublicKey[:])
	toHash := crypto.PubKeyHash(to.PublicKey[:])

	coinbase, err := NewCoinbaseTx(fromHash)
	require.NoError(t, err)

	lookup := fakeLookup{coinbase.ID: coinbase.Vout}

	spend := &Transaction{
		Vin: []TxInput{{PrevTxID: coinbase.ID, Vout: 0, PubKey: from.PublicKey[:]}},
		Vout: []TxOutput{
			Lock(Subsidy/2, toHash),
			Lock(Subsidy/2, fromHash),
		},
	}
	spend.SetID()

	require.NoError(t, spend.Sign(from.Secret[:], lookup))
	require.NoError(t, spend.Verify(lookup))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	from, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	attacker, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	fromHash := crypto.PubKeyHash(from.PublicKey[:])
	toHash := crypto.PubKeyHash(to.PublicKey[:])

	coinbase, err := NewCoinbaseTx(fromHash)
	require.NoError(t, err)
	lookup := fakeLookup{coinbase.ID: coinbase.Vout}

	spend := &Transaction{
		Vin:  []TxInput{{PrevTxID: coinbase.ID, Vout: 0, PubKey: attacker.PublicKey[:]}},
		Vout: []TxOutput{Lock(Subsidy, toHash)},
	}
	spend.SetID()

	require.NoError(t, spend.Sign(attacker.Secret[:], lookup))
	require.Error(t, spend.Verify(lookup))
}

func TestVerifyRejectsConservationViolation(t *testing.T) {
	from, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	fromHash := crypto.PubKeyHash(from.PublicKey[:])
	toHash := crypto.PubKeyHash(to.PublicKey[:])

	coinbase, err := NewCoinbaseTx(fromHash)
	require.NoError(t, err)
	lookup := fakeLookup{coinbase.ID: coinbase.Vout}

	spend := &Transaction{
		Vin:  []TxInput{{PrevTxID: coinbase.ID, Vout: 0, PubKey: from.PublicKey[:]}},
		Vout: []TxOutput{Lock(Subsidy*2, toHash)},
	}
	spend.SetID()
	require.NoError(t, spend.Sign(from.Secret[:], lookup))
	require.ErrorIs(t, spend.Verify(lookup), ErrConservationBroken)
}

func TestNewUTXOTransactionInsufficientFunds(t *testing.T) {
	var fromHash, toHash [32]byte
	src := fakeSpendSource{accumulated: Subsidy, outputs: map[chainhash.Hash][]uint32{}}
	_, err := NewUTXOTransaction(nil, fromHash, toHash, Subsidy*10, src)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

type fakeSpendSource struct {
	accumulated int64
	outputs     map[chainhash.Hash][]uint32
}

func (f fakeSpendSource) FindSpendableOutputs(pubKeyHash [32]byte, amount int64) (SpendableOutputs, error) {
	return SpendableOutputs{Accumulated: f.accumulated, Outputs: f.outputs}, nil
}

func TestSerializeRoundTrip(t *testing.T) {
	var hash [32]byte
	tx, err := NewCoinbaseTx(hash)
	require.NoError(t, err)

	data := tx.Serialize()
	decoded, err := DeserializeTransaction(data)
	require.NoError(t, err)
	require.Equal(t, tx.ID, decoded.ID)
	require.Equal(t, tx.Vout, decoded.Vout)
}

func TestSerializeOutputsRoundTrip(t *testing.T) {
	var hash [32]byte
	outputs := []TxOutput{Lock(100, hash), {Value: 200, PubKeyHash: hash, InMempool: true}}
	data := SerializeOutputs(outputs)
	decoded, err := DeserializeOutputs(data)
	require.NoError(t, err)
	require.Equal(t, outputs, decoded)
}
