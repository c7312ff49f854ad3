// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2pserver implements pebble's network server (spec §4.10): a
// TCP listener dispatching each inbound connection's stream of
// self-describing messages, the initial-sync state machine, and the
// blocks-in-transit queue. Each outbound send dials a fresh connection,
// writes one message, and closes — the source's one-shot gossip style —
// optionally through a SOCKS5 proxy for privacy (spec's domain stack).
package p2pserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/btcsuite/go-socks/socks"
	"github.com/pebblechain/pebble/block"
	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/wire"
)

// ErrUnknownAdminQuery is returned when an AdminQuery message names an
// operation the server does not recognize.
var ErrUnknownAdminQuery = errors.New("p2pserver: unknown admin query kind")

// Server is pebble's TCP network endpoint, wired to a node.Context for
// transaction submission, mining, and chain/mempool/peer access.
type Server struct {
	listenAddr string
	proxyAddr  string
	ctx        *node.Context

	transitMu sync.Mutex
	inTransit []chainhash.Hash
}

// New constructs a server listening on listenAddr and orchestrating via
// ctx. proxyAddr, if non-empty, is a SOCKS5 proxy every outbound dial is
// routed through.
func New(listenAddr, proxyAddr string, ctx *node.Context) *Server {
	s := &Server{listenAddr: listenAddr, proxyAddr: proxyAddr, ctx: ctx}
	ctx.SetBroadcaster(s)
	return s
}

// dial opens an outbound connection, through the configured SOCKS proxy
// if one is set.
func (s *Server) dial(addr string) (net.Conn, error) {
	if s.proxyAddr == "" {
		return net.Dial("tcp", addr)
	}
	proxy := &socks.Proxy{Addr: s.proxyAddr}
	return proxy.Dial("tcp", addr)
}

// send dials addr, writes msg, and closes — the one-shot send pattern
// spec §4.10's "stream... until EOF, then closes" implies for a sender.
func (s *Server) send(addr string, msg wire.Message) error {
	conn, err := s.dial(addr)
	if err != nil {
		return fmt.Errorf("p2pserver: dialing %s: %w", addr, err)
	}
	defer conn.Close()
	return wire.WriteMessage(conn, msg)
}

// BroadcastInv implements node.Broadcaster: it fans Inv out to every
// known peer except those in exclude.
func (s *Server) BroadcastInv(kind wire.InvKind, id chainhash.Hash, exclude ...string) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[e] = struct{}{}
	}
	msg := &wire.InvMsg{FromAddr: s.listenAddr, Kind: kind, Items: []chainhash.Hash{id}}
	for _, addr := range s.ctx.Peers.Snapshot() {
		if _, skip := excluded[addr]; skip {
			continue
		}
		_ = s.send(addr, msg) // gossip is best-effort; a dead peer is dropped silently
	}
}

// Announce sends a Version handshake to addr, the FRESH→Version step of
// the initial-sync state machine (spec §4.10).
func (s *Server) Announce(addr string) error {
	height, err := s.height()
	if err != nil {
		return err
	}
	return s.send(addr, &wire.VersionMsg{FromAddr: s.listenAddr, BestHeight: height})
}

// height reports the chain height, treating an uninitialized chain as
// height 0 rather than an error — a fresh node with no genesis yet must
// still be able to advertise itself during the handshake (spec §4.10),
// so it can pull the genesis block like any other block.
func (s *Server) height() (int32, error) {
	height, err := s.ctx.Height()
	if errors.Is(err, chainstate.ErrNotInitialized) {
		return 0, nil
	}
	return height, err
}

// ListenAndServe accepts connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("p2pserver: listening on %s: %w", s.listenAddr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("p2pserver: accept: %w", err)
			}
		}
		log.Debugf("accepted connection from %v", conn.RemoteAddr())
		go s.handleConn(conn)
	}
}

// handleConn reads messages from conn until EOF, dispatching each
// independently — a connection carries no state beyond the stream itself
// (spec §4.10).
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		if err := s.dispatch(msg); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.VersionMsg:
		return s.onVersion(m)
	case *wire.KnownNodesMsg:
		return s.onKnownNodes(m)
	case *wire.GetBlocksMsg:
		return s.onGetBlocks(m)
	case *wire.InvMsg:
		return s.onInv(m)
	case *wire.GetDataMsg:
		return s.onGetData(m)
	case *wire.BlockMsg:
		return s.onBlock(m)
	case *wire.TxMsg:
		return s.onTx(m)
	case *wire.SendBitcoinMsg:
		return s.onSendBitcoin(m)
	case *wire.StatusMessage:
		return nil // informational only
	case *wire.AdminQueryMsg:
		return s.onAdminQuery(m)
	default:
		return fmt.Errorf("p2pserver: unhandled message %T", msg)
	}
}

func (s *Server) onVersion(m *wire.VersionMsg) error {
	s.ctx.Peers.Add(m.FromAddr)
	height, err := s.height()
	if err != nil {
		return err
	}
	if m.BestHeight > height {
		log.Infof("peer %s advertises height %d > our %d, requesting blocks", m.FromAddr, m.BestHeight, height)
		return s.send(m.FromAddr, &wire.GetBlocksMsg{FromAddr: s.listenAddr})
	}
	return nil
}

func (s *Server) onKnownNodes(m *wire.KnownNodesMsg) error {
	s.ctx.Peers.AddMany(m.Peers)
	return nil
}

// onGetBlocks replies with every block hash on the best chain, genesis
// first. The iterator walks tip→genesis, but the requester applies each
// block via AddBlock as it arrives, which needs a block's parent already
// in the store — so the reply order is reversed to genesis→tip before
// sending (spec §4.10).
func (s *Server) onGetBlocks(m *wire.GetBlocksMsg) error {
	it, err := s.ctx.Chain.Iterator()
	if err != nil {
		return err
	}
	var hashes []chainhash.Hash
	for {
		b, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		hashes = append(hashes, b.Header.Hash)
	}
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
	return s.send(m.FromAddr, &wire.InvMsg{FromAddr: s.listenAddr, Kind: wire.InvBlock, Items: hashes})
}

func (s *Server) onInv(m *wire.InvMsg) error {
	switch m.Kind {
	case wire.InvBlock:
		s.transitMu.Lock()
		var fresh []chainhash.Hash
		for _, h := range m.Items {
			have, err := s.ctx.Chain.HasBlock(h)
			if err != nil {
				s.transitMu.Unlock()
				return err
			}
			if !have {
				fresh = append(fresh, h)
			}
		}
		s.inTransit = append(s.inTransit, fresh...)
		head, ok := s.transitHeadLocked()
		s.transitMu.Unlock()
		if ok {
			return s.send(m.FromAddr, &wire.GetDataMsg{FromAddr: s.listenAddr, Kind: wire.InvBlock, ID: head})
		}
		return nil
	case wire.InvTx:
		for _, id := range m.Items {
			if !s.ctx.Mempool.Contains(id) {
				if err := s.send(m.FromAddr, &wire.GetDataMsg{FromAddr: s.listenAddr, Kind: wire.InvTx, ID: id}); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("p2pserver: unknown inventory kind %v", m.Kind)
	}
}

func (s *Server) transitHeadLocked() (chainhash.Hash, bool) {
	if len(s.inTransit) == 0 {
		return chainhash.Hash{}, false
	}
	return s.inTransit[0], true
}

func (s *Server) popTransit() (chainhash.Hash, bool) {
	s.transitMu.Lock()
	defer s.transitMu.Unlock()
	if len(s.inTransit) == 0 {
		return chainhash.Hash{}, false
	}
	s.inTransit = s.inTransit[1:]
	return s.transitHeadLocked()
}

func (s *Server) onGetData(m *wire.GetDataMsg) error {
	switch m.Kind {
	case wire.InvBlock:
		data, err := s.lookupBlock(m.ID)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return s.send(m.FromAddr, &wire.BlockMsg{FromAddr: s.listenAddr, Payload: data.Serialize()})
	case wire.InvTx:
		tx := s.ctx.Mempool.Get(m.ID)
		if tx == nil {
			return nil
		}
		return s.send(m.FromAddr, &wire.TxMsg{FromAddr: s.listenAddr, Payload: tx.Serialize()})
	default:
		return fmt.Errorf("p2pserver: unknown inventory kind %v", m.Kind)
	}
}

func (s *Server) lookupBlock(id chainhash.Hash) (*block.Block, error) {
	have, err := s.ctx.Chain.HasBlock(id)
	if err != nil || !have {
		return nil, err
	}
	it, err := s.ctx.Chain.Iterator()
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
		if b.Header.Hash == id {
			return b, nil
		}
	}
}

func (s *Server) onBlock(m *wire.BlockMsg) error {
	b, err := block.Deserialize(m.Payload)
	if err != nil {
		return fmt.Errorf("p2pserver: decoding block from %s: %w", m.FromAddr, err)
	}
	if err := s.ctx.Chain.AddBlock(b); err != nil {
		return fmt.Errorf("p2pserver: applying block from %s: %w", m.FromAddr, err)
	}

	head, hadOne := s.popTransit()
	if hadOne && head == b.Header.Hash {
		s.transitMu.Lock()
		next, ok := s.transitHeadLocked()
		s.transitMu.Unlock()
		if ok {
			return s.send(m.FromAddr, &wire.GetDataMsg{FromAddr: s.listenAddr, Kind: wire.InvBlock, ID: next})
		}
	}
	return nil
}

func (s *Server) onTx(m *wire.TxMsg) error {
	tx, err := ledger.DeserializeTransaction(m.Payload)
	if err != nil {
		return fmt.Errorf("p2pserver: decoding tx from %s: %w", m.FromAddr, err)
	}
	duplicate, err := s.ctx.SubmitTransaction(tx, m.FromAddr)
	if err != nil {
		return s.send(m.FromAddr, &wire.StatusMessage{FromAddr: s.listenAddr, Level: "error", Text: err.Error()})
	}
	if duplicate {
		return s.send(m.FromAddr, &wire.StatusMessage{FromAddr: s.listenAddr, Level: "info", Text: "transaction already known"})
	}
	return nil
}

func (s *Server) onSendBitcoin(m *wire.SendBitcoinMsg) error {
	return s.send(m.FromAddr, &wire.StatusMessage{
		FromAddr: s.listenAddr,
		Level:    "error",
		Text:     "send-bitcoin over the wire requires server-side wallet access, which this node does not expose",
	})
}

func (s *Server) onAdminQuery(m *wire.AdminQueryMsg) error {
	reply := func(level, text string) error {
		return s.send(m.FromAddr, &wire.StatusMessage{FromAddr: s.listenAddr, Level: level, Text: text})
	}

	switch m.Kind {
	case "height":
		height, err := s.ctx.Height()
		if err != nil {
			return reply("error", err.Error())
		}
		return reply("info", fmt.Sprintf("height=%d", height))
	case "reindex":
		if err := s.ctx.Reindex(); err != nil {
			return reply("error", err.Error())
		}
		return reply("info", "reindex complete")
	case "mine-empty-block":
		b, err := s.ctx.MineEmptyBlock()
		if err != nil {
			return reply("error", err.Error())
		}
		return reply("info", fmt.Sprintf("mined %s at height %d", b.Header.Hash, b.Header.Height))
	case "balance":
		hash, err := decodeAdminAddress(m.Args["address"])
		if err != nil {
			return reply("error", err.Error())
		}
		bal, err := s.ctx.Balance(hash)
		if err != nil {
			return reply("error", err.Error())
		}
		return reply("info", fmt.Sprintf("balance=%d", bal))
	case "all-transactions":
		txs, err := s.ctx.AllTransactions()
		if err != nil {
			return reply("error", err.Error())
		}
		ids := make([]string, len(txs))
		for i, tx := range txs {
			ids[i] = tx.ID.String()
		}
		return reply("info", fmt.Sprintf("count=%d ids=%s", len(ids), strings.Join(ids, ",")))
	default:
		return reply("error", fmt.Errorf("%w: %s", ErrUnknownAdminQuery, m.Kind).Error())
	}
}

// decodeAdminAddress decodes the Base58Check address carried in an
// AdminQueryMsg's Args map.
func decodeAdminAddress(address string) ([32]byte, error) {
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

