// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command pebblenode runs a pebble full node: chainstate, mempool, peer
// gossip, optional mining, and the REST/websocket admin and wallet
// surface, all wired around a single node.Context (spec §6/§9).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/crypto"
	"github.com/pebblechain/pebble/mempool"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/p2pserver"
	"github.com/pebblechain/pebble/peer"
	"github.com/pebblechain/pebble/restapi"
	"github.com/pebblechain/pebble/store"
	"github.com/pebblechain/pebble/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogRotator(cfg.logPath()); err != nil {
		return err
	}
	initLogging(cfg.Debug)

	st, err := store.Open(cfg.storeDir())
	if err != nil {
		return fmt.Errorf("pebblenode: opening store: %w", err)
	}
	defer st.Close()

	chain := chainstate.New(st)

	walletSvc, err := wallet.Open(cfg.walletPath())
	if err != nil {
		return fmt.Errorf("pebblenode: opening wallet: %w", err)
	}

	var minerPubKeyHash [32]byte
	isMiner := cfg.Miner != ""
	if isMiner {
		minerPubKeyHash, err = decodeMinerAddress(cfg.Miner)
		if err != nil {
			return fmt.Errorf("pebblenode: decoding --miner address: %w", err)
		}
	}

	if err := ensureGenesis(chain, cfg, minerPubKeyHash); err != nil {
		return err
	}

	pool := mempool.New()
	peers := peer.New()

	nodeCfg := node.Config{
		ListenAddr:      cfg.ListenAddr,
		MinerPubKeyHash: minerPubKeyHash,
		IsMiner:         isMiner,
		IsSeed:          cfg.IsSeed,
		MiningThreshold: cfg.MiningThreshold,
	}
	ctx := node.NewContext(chain, pool, peers, nodeCfg)

	p2p := p2pserver.New(cfg.ListenAddr, cfg.Proxy, ctx) // installs itself as ctx's Broadcaster

	apiKeys := map[string]restapi.Role{}
	if cfg.APIKeyAdmin != "" {
		apiKeys[cfg.APIKeyAdmin] = restapi.RoleAdmin
	}
	if cfg.APIKeyWallet != "" {
		apiKeys[cfg.APIKeyWallet] = restapi.RoleWallet
	}
	api := restapi.NewServer(ctx, walletSvc, restapi.Config{
		ListenAddr: cfg.RESTAddr,
		APIKeys:    apiKeys,
	})

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.CentralNode != "" && !cfg.IsSeed {
		peers.Add(cfg.CentralNode)
		if err := p2p.Announce(cfg.CentralNode); err != nil {
			log.Warnf("announcing to central node %s: %v", cfg.CentralNode, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p2p.ListenAndServe(runCtx); err != nil {
			errs <- fmt.Errorf("p2p server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("rest api: %w", err)
		}
	}()

	log.Infof("pebblenode listening p2p=%s rest=%s seed=%v miner=%v", cfg.ListenAddr, cfg.RESTAddr, cfg.IsSeed, isMiner)

	select {
	case <-runCtx.Done():
	case err := <-errs:
		cancel()
		wg.Wait()
		return err
	}
	wg.Wait()
	log.Infof("pebblenode shut down cleanly")
	return nil
}

// ensureGenesis creates the genesis block on first run. A seed node
// always mints its own; a follower only does so when it has no
// --centralnode to sync from, so a lone node is still usable standalone.
func ensureGenesis(chain *chainstate.Chain, cfg *config, minerPubKeyHash [32]byte) error {
	_, err := chain.Height()
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, chainstate.ErrNotInitialized):
		return fmt.Errorf("pebblenode: reading chain height: %w", err)
	}

	if !cfg.IsSeed && cfg.CentralNode != "" {
		// The genesis block and everything after it arrives over the
		// wire once the P2P server announces itself to CentralNode.
		return nil
	}

	genesis, err := chain.Initialize(minerPubKeyHash)
	if err != nil {
		return fmt.Errorf("pebblenode: creating genesis block: %w", err)
	}
	log.Infof("created genesis block %v", genesis.Header.Hash)
	return nil
}

func decodeMinerAddress(address string) ([32]byte, error) {
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
