// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname = "data"
	defaultLogFilename  = "pebblenode.log"
	defaultListenAddr   = "127.0.0.1:9333"
	defaultRESTAddr     = "127.0.0.1:9334"
	defaultMiningThresh = 1
)

// config holds every flag and environment-derived setting pebblenode
// starts with, assembled once by loadConfig and handed to node.Config —
// no package reads the environment directly after startup (spec §4's
// "all components share an immutable configuration").
type config struct {
	HomeDir         string `short:"b" long:"datadir" description:"Directory to store data"`
	ListenAddr      string `long:"listen" description:"P2P listen address" env:"NODE_ADDR"`
	RESTAddr        string `long:"restlisten" description:"REST API listen address"`
	CentralNode     string `long:"centralnode" description:"Seed peer to sync from on startup" env:"CENTRAL_NODE"`
	IsSeed          bool   `long:"seed" description:"Run as a seed node (creates genesis, gossips to every peer)"`
	Miner           string `long:"miner" description:"Base58 address to mine to; enables mining when set"`
	MiningThreshold int    `long:"miningthreshold" description:"Mempool size that triggers mining" default:"1"`
	Proxy           string `long:"proxy" description:"SOCKS5 proxy for outbound peer connections"`
	APIKeyAdmin     string `long:"apikeyadmin" description:"X-API-Key value granted the admin role"`
	APIKeyWallet    string `long:"apikeywallet" description:"X-API-Key value granted the wallet role"`
	Debug           string `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical" default:"info"`
}

// loadConfig parses CLI flags (with environment-variable fallbacks for a
// few well-known settings) into an immutable config.
func loadConfig() (*config, error) {
	cfg := config{
		HomeDir:         defaultHomeDir(),
		ListenAddr:      defaultListenAddr,
		RESTAddr:        defaultRESTAddr,
		MiningThreshold: defaultMiningThresh,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, fmt.Errorf("pebblenode: parsing flags: %w", err)
	}

	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return nil, fmt.Errorf("pebblenode: creating data directory: %w", err)
	}
	return &cfg, nil
}

func defaultHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, ".pebblenode")
}

func (c *config) storeDir() string {
	return filepath.Join(c.HomeDir, defaultDataDirname)
}

func (c *config) walletPath() string {
	return filepath.Join(c.HomeDir, "wallet.dat")
}

func (c *config) logPath() string {
	return filepath.Join(c.HomeDir, "logs", defaultLogFilename)
}
