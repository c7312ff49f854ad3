// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peer implements pebble's known-peer registry (spec §4.9): a set
// of socket endpoints with no liveness checking, guarded by a single
// reader-writer lock, used by the seed node as a gossip directory.
package peer

import "sync"

// Registry is pebble's known-peers set.
type Registry struct {
	mtx   sync.RWMutex
	addrs map[string]struct{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{addrs: make(map[string]struct{})}
}

// Add inserts addr, if not already present.
func (r *Registry) Add(addr string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.addrs[addr]; !ok {
		log.Debugf("discovered peer %s", addr)
	}
	r.addrs[addr] = struct{}{}
}

// AddMany inserts every address in addrs.
func (r *Registry) AddMany(addrs []string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, a := range addrs {
		r.addrs[a] = struct{}{}
	}
}

// Contains reports whether addr is known.
func (r *Registry) Contains(addr string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	_, ok := r.addrs[addr]
	return ok
}

// Snapshot returns every known address, in unspecified order.
func (r *Registry) Snapshot() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]string, 0, len(r.addrs))
	for a := range r.addrs {
		out = append(out, a)
	}
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.addrs)
}
