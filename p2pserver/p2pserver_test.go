package p2pserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pebblechain/pebble/chainhash"
	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/ledger"
	"github.com/pebblechain/pebble/mempool"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/peer"
	"github.com/pebblechain/pebble/store"
	"github.com/pebblechain/pebble/wire"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, isSeed bool, minerHash [32]byte) (*Server, string) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	chain := chainstate.New(s)
	_, err = chain.Initialize(minerHash)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx := node.NewContext(chain, mempool.New(), peer.New(), node.Config{
		ListenAddr: addr, MinerPubKeyHash: minerHash, IsSeed: isSeed, IsMiner: true, MiningThreshold: 1,
	})
	srv := New(addr, "", ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ListenAndServe(runCtx)
	waitForListener(t, addr)

	return srv, addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}

// TestAnnounceFromUninitializedChainSendsZeroHeight exercises the
// FRESH→Version step for a follower that has not yet created or received
// its genesis block: Announce must still send a Version handshake,
// advertising height 0, rather than failing on ErrNotInitialized and
// leaving the node unable to ever start syncing.
func TestAnnounceFromUninitializedChainSendsZeroHeight(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	chain := chainstate.New(s)
	ctx := node.NewContext(chain, mempool.New(), peer.New(), node.Config{ListenAddr: "127.0.0.1:0"})
	srv := New("127.0.0.1:0", "", ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	replyAddr := ln.Addr().String()

	received := make(chan *wire.VersionMsg, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		if v, ok := msg.(*wire.VersionMsg); ok {
			received <- v
		}
	}()

	require.NoError(t, srv.Announce(replyAddr))

	select {
	case v := <-received:
		require.Equal(t, int32(0), v.BestHeight)
	case <-time.After(2 * time.Second):
		t.Fatal("no Version handshake received")
	}
}

// TestVersionHandshakeTriggersGetBlocks exercises the FRESH initial-sync
// step: a Version from a peer advertising a greater height than ours
// should make us send that peer a GetBlocks request.
func TestVersionHandshakeTriggersGetBlocks(t *testing.T) {
	minerHash := [32]byte{0x01}
	srvA, addrA := startTestServer(t, true, minerHash)
	_, err := srvA.ctx.MineEmptyBlock()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan wire.Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		received <- msg
	}()

	require.NoError(t, srvA.send(addrA, &wire.VersionMsg{FromAddr: ln.Addr().String(), BestHeight: 5}))

	select {
	case msg := <-received:
		require.Equal(t, wire.CmdGetBlocks, msg.Command())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a GetBlocks request from the version handler")
	}
}

// TestGetBlocksRepliesWithInv exercises §4.10's GetBlocks → Inv(Block, ...)
// reply, listing every hash on the responder's best chain.
func TestGetBlocksRepliesWithInv(t *testing.T) {
	minerHash := [32]byte{0x02}
	srvA, addrA := startTestServer(t, false, minerHash)
	genesis, err := srvA.ctx.Chain.Tip()
	require.NoError(t, err)
	mined, err := srvA.ctx.MineEmptyBlock()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	replyAddr := ln.Addr().String()

	received := make(chan *wire.InvMsg, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		inv, ok := msg.(*wire.InvMsg)
		if !ok {
			return
		}
		received <- inv
	}()

	conn, err := net.Dial("tcp", addrA)
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, &wire.GetBlocksMsg{FromAddr: replyAddr}))
	conn.Close()

	select {
	case inv := <-received:
		require.Equal(t, wire.InvBlock, inv.Kind)
		require.Len(t, inv.Items, 2) // genesis + the empty block just mined
		// Genesis must lead: the requester applies each hash via AddBlock
		// as it arrives, which needs a block's parent already in the store.
		require.Equal(t, genesis.Header.Hash, inv.Items[0])
		require.Equal(t, mined.Header.Hash, inv.Items[1])
	case <-time.After(2 * time.Second):
		t.Fatal("no Inv reply received")
	}
}

// TestTxMessageWithUnknownInputGetsErrorStatus exercises an invalid Tx
// message (it spends a transaction id the chain has never seen): the
// server should decode it, fail verification, and reply with an error
// StatusMessage rather than hang or crash.
func TestTxMessageWithUnknownInputGetsErrorStatus(t *testing.T) {
	minerHash := [32]byte{0x03}
	srvA, addrA := startTestServer(t, false, minerHash)

	var bogusPrev chainhash.Hash
	bogusPrev[0] = 0xEE
	tx := &ledger.Transaction{
		Vin:  []ledger.TxInput{{PrevTxID: bogusPrev, Vout: 0, PubKey: []byte("not-a-real-key")}},
		Vout: []ledger.TxOutput{ledger.Lock(1, [32]byte{0x09})},
	}
	tx.SetID()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	replyAddr := ln.Addr().String()

	received := make(chan *wire.StatusMessage, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		status, ok := msg.(*wire.StatusMessage)
		if !ok {
			return
		}
		received <- status
	}()

	conn, err := net.Dial("tcp", addrA)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteMessage(conn, &wire.TxMsg{FromAddr: replyAddr, Payload: tx.Serialize()}))

	select {
	case status := <-received:
		require.Equal(t, "error", status.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error status reply")
	}
}
