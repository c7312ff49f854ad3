// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package restapi is the thin HTTP admin/wallet surface spec §6 describes
// as an external collaborator: a stdlib http.ServeMux wrapper over
// node.Context and wallet.Service, authenticated by a single X-API-Key
// header mapped to one of two roles, plus a /ws endpoint that pushes
// new-tip and new-mempool-entry notifications to connected clients.
package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/wallet"
)

// Role is one of the two API-key roles spec §6 describes: admin is a
// strict superset of wallet.
type Role int

const (
	// RoleWallet may create wallets, check balances, and submit
	// transactions.
	RoleWallet Role = iota
	// RoleAdmin may additionally trigger mining.
	RoleAdmin
)

// Config is the server's static configuration: which API keys map to
// which role.
type Config struct {
	ListenAddr string
	APIKeys    map[string]Role
}

// Server wires node.Context and wallet.Service behind the REST surface.
type Server struct {
	ctx    *node.Context
	wallet *wallet.Service
	cfg    Config

	notifications chan notification
	clients       map[chan []byte]struct{}
	register      chan chan []byte
	unregister    chan chan []byte
}

// NewServer constructs a Server. Call Run to start its notification fan-out
// loop and http.ListenAndServe.
func NewServer(ctx *node.Context, walletSvc *wallet.Service, cfg Config) *Server {
	return &Server{
		ctx:           ctx,
		wallet:        walletSvc,
		cfg:           cfg,
		notifications: make(chan notification, 64),
		clients:       make(map[chan []byte]struct{}),
		register:      make(chan chan []byte),
		unregister:    make(chan chan []byte),
	}
}

// envelope is the uniform response shape spec §6 requires.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.Timestamp = time.Now().Unix()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

// authRole resolves the caller's role from the X-API-Key header, or
// reports that the key is unrecognized.
func (s *Server) authRole(r *http.Request) (Role, bool) {
	key := r.Header.Get("X-API-Key")
	role, ok := s.cfg.APIKeys[key]
	return role, ok
}

// requireRole wraps h so it only runs for callers whose key resolves to
// at least min (RoleAdmin ⊃ RoleWallet, per spec §6).
func (s *Server) requireRole(min Role, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, known := s.authRole(r)
		if !known || role < min {
			fail(w, http.StatusUnauthorized, fmt.Errorf("restapi: missing or insufficient X-API-Key"))
			return
		}
		h(w, r)
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/blockchain", s.requireRole(RoleWallet, s.handleBlockchain))
	mux.HandleFunc("/blockchain/blocks", s.requireRole(RoleWallet, s.handleBlocksList))
	mux.HandleFunc("/blockchain/blocks/latest", s.requireRole(RoleWallet, s.handleBlocksLatest))
	mux.HandleFunc("/blockchain/blocks/", s.requireRole(RoleWallet, s.handleBlockByHash))

	mux.HandleFunc("/wallet", s.requireRole(RoleWallet, s.handleWalletCreate))
	mux.HandleFunc("/wallet/addresses", s.requireRole(RoleWallet, s.handleWalletAddresses))
	mux.HandleFunc("/wallet/", s.requireRole(RoleWallet, s.handleWalletBalance))

	mux.HandleFunc("/transactions", s.requireRole(RoleWallet, s.handleTransactionsSubmit))
	mux.HandleFunc("/transactions/mempool", s.requireRole(RoleWallet, s.handleMempool))
	mux.HandleFunc("/transactions/mempool/", s.requireRole(RoleWallet, s.handleMempoolTx))

	mux.HandleFunc("/mining/generatetoaddress", s.requireRole(RoleAdmin, s.handleGenerateToAddress))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleHealthReady)

	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

func (s *Server) handleBlockchain(w http.ResponseWriter, r *http.Request) {
	height, err := s.ctx.Height()
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	tip, err := s.ctx.Chain.Tip()
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, map[string]interface{}{
		"height":         height,
		"last_block_hash": tip.Header.Hash.String(),
	})
}

func (s *Server) handleBlocksList(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	blocks, err := s.ctx.Blocks(limit)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, blockSummaries(blocks))
}

func (s *Server) handleBlocksLatest(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 1)
	blocks, err := s.ctx.Blocks(limit)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, blockSummaries(blocks))
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Path[len("/blockchain/blocks/"):]
	hash, err := chainhash.NewHashFromStr(raw)
	if err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("restapi: %w", crypto.ErrInvalidAddress))
		return
	}
	b, err := s.ctx.BlockByHash(hash)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	if b == nil {
		fail(w, http.StatusNotFound, fmt.Errorf("restapi: no block with that hash"))
		return
	}
	ok(w, blockSummary(b))
}

func (s *Server) handleWalletCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, fmt.Errorf("restapi: use POST"))
		return
	}
	addr, err := s.wallet.Create()
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, map[string]string{"address": addr})
}

func (s *Server) handleWalletAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.wallet.ListAddresses()
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, addrs)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/wallet/"):]
	const suffix = "/balance"
	if len(addr) < len(suffix) || addr[len(addr)-len(suffix):] != suffix {
		fail(w, http.StatusNotFound, fmt.Errorf("restapi: unknown wallet route"))
		return
	}
	addr = addr[:len(addr)-len(suffix)]

	hash, err := decodeAddress(addr)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	bal, err := s.ctx.Balance(hash)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, map[string]int64{"balance": bal})
}

type submitTxRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleTransactionsSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, fmt.Errorf("restapi: use POST"))
		return
	}
	var req submitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("restapi: decoding request: %w", err))
		return
	}

	fromWallet, err := s.wallet.Get(req.From)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	toHash, err := decodeAddress(req.To)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	fromHash, err := decodeAddress(req.From)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	tx, err := ledger.NewUTXOTransaction(fromWallet.KeyPair.PublicKey[:], fromHash, toHash, req.Amount, s.ctx.Chain.UTXO())
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if err := tx.Sign(fromWallet.KeyPair.Secret[:], s.ctx.Chain); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	if _, err := s.ctx.SubmitTransaction(tx, s.ctx.Config.ListenAddr); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	s.notify(notification{Type: "new-mempool-entry", Hash: tx.ID.String()})
	ok(w, map[string]string{"txid": tx.ID.String()})
}

func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	all := s.ctx.Mempool.GetAll()
	ids := make([]string, 0, len(all))
	for _, tx := range all {
		ids = append(ids, tx.ID.String())
	}
	ok(w, ids)
}

func (s *Server) handleMempoolTx(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Path[len("/transactions/mempool/"):]
	id, err := chainhash.NewHashFromStr(raw)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	tx := s.ctx.Mempool.Get(id)
	if tx == nil {
		fail(w, http.StatusNotFound, fmt.Errorf("restapi: no such mempool transaction"))
		return
	}
	ok(w, tx)
}

type generateRequest struct {
	Address  string `json:"address"`
	NBlocks  int    `json:"nblocks"`
	MaxTries int    `json:"maxtries,omitempty"`
}

func (s *Server) handleGenerateToAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, fmt.Errorf("restapi: use POST"))
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("restapi: decoding request: %w", err))
		return
	}
	hash, err := decodeAddress(req.Address)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	blocks, err := s.ctx.GenerateToAddress(hash, req.NBlocks)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	for _, b := range blocks {
		s.notify(notification{Type: "new-tip", Hash: b.Header.Hash.String()})
	}
	ok(w, blockSummaries(blocks))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ctx.Height(); err != nil {
		fail(w, http.StatusServiceUnavailable, err)
		return
	}
	ok(w, map[string]string{"status": "ready"})
}

func decodeAddress(address string) ([32]byte, error) {
	var out [32]byte
	payload, err := crypto.Base58Decode(address)
	if err != nil {
		return out, err
	}
	if len(payload) != 32 {
		return out, crypto.ErrInvalidAddress
	}
	copy(out[:], payload)
	return out, nil
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

type blockSummaryJSON struct {
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Height    int32  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	NumTxs    int    `json:"num_transactions"`
}

func blockSummary(b *block.Block) blockSummaryJSON {
	return blockSummaryJSON{
		Hash:      b.Header.Hash.String(),
		PrevHash:  b.Header.PrevHash.String(),
		Height:    b.Header.Height,
		Timestamp: b.Header.Timestamp,
		NumTxs:    len(b.Transactions),
	}
}

func blockSummaries(blocks []*block.Block) []blockSummaryJSON {
	out := make([]blockSummaryJSON, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockSummary(b))
	}
	return out
}
