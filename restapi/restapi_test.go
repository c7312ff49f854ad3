package restapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/mempool"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/peer"
	"github.com/pebblechain/pebble/store"
	"github.com/pebblechain/pebble/wallet"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, [32]byte) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	minerKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	minerHash := crypto.PubKeyHash(minerKey.PublicKey[:])

	chain := chainstate.New(s)
	_, err = chain.Initialize(minerHash)
	require.NoError(t, err)

	ctx := node.NewContext(chain, mempool.New(), peer.New(), node.Config{
		ListenAddr: "test:1", MinerPubKeyHash: minerHash, IsMiner: true, MiningThreshold: 1,
	})

	w, err := wallet.Open(t.TempDir() + "/wallet.dat")
	require.NoError(t, err)

	srv := NewServer(ctx, w, Config{
		ListenAddr: "127.0.0.1:0",
		APIKeys:    map[string]Role{"wallet-key": RoleWallet, "admin-key": RoleAdmin},
	})
	return srv, minerHash
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
}

func TestProtectedRouteRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/blockchain", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, 401, rr.Code)
}

func TestBlockchainReportsGenesisHeight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/blockchain", nil)
	req.Header.Set("X-API-Key", "wallet-key")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	env := decodeEnvelope(t, rr.Body.Bytes())
	require.True(t, env.Success)
	require.Equal(t, float64(0), env.Data.(map[string]interface{})["height"])
}

func TestWalletCreateThenAddressesListsIt(t *testing.T) {
	srv, _ := newTestServer(t)

	createReq := httptest.NewRequest("POST", "/wallet", nil)
	createReq.Header.Set("X-API-Key", "wallet-key")
	createRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(createRR, createReq)
	require.Equal(t, 200, createRR.Code)

	listReq := httptest.NewRequest("GET", "/wallet/addresses", nil)
	listReq.Header.Set("X-API-Key", "wallet-key")
	listRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRR, listReq)
	require.Equal(t, 200, listRR.Code)

	env := decodeEnvelope(t, listRR.Body.Bytes())
	addrs, ok := env.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, addrs, 1)
}

func TestGenerateToAddressRequiresAdminRole(t *testing.T) {
	srv, minerHash := newTestServer(t)
	addr := crypto.Base58Encode(minerHash[:])

	body, err := json.Marshal(generateRequest{Address: addr, NBlocks: 1})
	require.NoError(t, err)

	walletReq := httptest.NewRequest("POST", "/mining/generatetoaddress", bytes.NewReader(body))
	walletReq.Header.Set("X-API-Key", "wallet-key")
	walletRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(walletRR, walletReq)
	require.Equal(t, 401, walletRR.Code)

	adminReq := httptest.NewRequest("POST", "/mining/generatetoaddress", bytes.NewReader(body))
	adminReq.Header.Set("X-API-Key", "admin-key")
	adminRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(adminRR, adminReq)
	require.Equal(t, 200, adminRR.Code)

	height, err := srv.ctx.Height()
	require.NoError(t, err)
	require.EqualValues(t, 1, height)
}

func createWallet(t *testing.T, srv *Server) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/wallet", nil)
	req.Header.Set("X-API-Key", "wallet-key")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	return env.Data.(map[string]interface{})["address"].(string)
}

func TestSubmitTransactionMovesFunds(t *testing.T) {
	srv, _ := newTestServer(t)

	fromAddr := createWallet(t, srv)
	toAddr := createWallet(t, srv)

	genBody, err := json.Marshal(generateRequest{Address: fromAddr, NBlocks: 1})
	require.NoError(t, err)
	genReq := httptest.NewRequest("POST", "/mining/generatetoaddress", bytes.NewReader(genBody))
	genReq.Header.Set("X-API-Key", "admin-key")
	genRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(genRR, genReq)
	require.Equal(t, 200, genRR.Code)

	submitBody, err := json.Marshal(submitTxRequest{From: fromAddr, To: toAddr, Amount: ledger.Subsidy})
	require.NoError(t, err)
	submitReq := httptest.NewRequest("POST", "/transactions", bytes.NewReader(submitBody))
	submitReq.Header.Set("X-API-Key", "wallet-key")
	submitRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(submitRR, submitReq)
	require.Equal(t, 200, submitRR.Code)

	balReq := httptest.NewRequest("GET", "/wallet/"+toAddr+"/balance", nil)
	balReq.Header.Set("X-API-Key", "wallet-key")
	balRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(balRR, balReq)
	require.Equal(t, 200, balRR.Code)

	env := decodeEnvelope(t, balRR.Body.Bytes())
	bal := env.Data.(map[string]interface{})["balance"].(float64)
	require.Equal(t, float64(ledger.Subsidy), bal)
}
