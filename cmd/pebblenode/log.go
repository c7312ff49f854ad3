// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/pebblechain/pebble/chainstate"
	"github.com/pebblechain/pebble/mempool"
	"github.com/pebblechain/pebble/node"
	"github.com/pebblechain/pebble/p2pserver"
	"github.com/pebblechain/pebble/peer"
)

// logRotator rotates the node's log file by size, the same approach the
// teacher's daemons use for their log output.
var logRotator *rotator.Rotator

func initLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("pebblenode: creating log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 8)
	if err != nil {
		return fmt.Errorf("pebblenode: initializing log rotation: %w", err)
	}
	logRotator = r
	return nil
}

// log is pebblenode's own subsystem logger, tagged PBLN.
var log btclog.Logger = btclog.Disabled

// initLogging backs every package's UseLogger with a single btclog
// backend writing through logRotator, at the level named by debugLevel.
func initLogging(debugLevel string) {
	backend := btclog.NewBackend(logWriter{})
	level, ok := btclog.LevelFromString(debugLevel)
	if !ok {
		level = btclog.LevelInfo
	}

	newLogger := func(tag string) btclog.Logger {
		l := backend.Logger(tag)
		l.SetLevel(level)
		return l
	}

	log = newLogger("PBLN")
	chainstate.UseLogger(newLogger("CHST"))
	mempool.UseLogger(newLogger("MEMP"))
	peer.UseLogger(newLogger("PEER"))
	p2pserver.UseLogger(newLogger("SRVR"))
	node.UseLogger(newLogger("MINR"))
}

// logWriter fans log output out to both the rotator and stdout, the way
// the teacher's node logs to the console during development and to a
// rotated file in production.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}
