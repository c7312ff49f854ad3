// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/btcsuite/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// notification is pushed to every connected /ws client on a new tip or a
// new mempool entry.
type notification struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

func (s *Server) notify(n notification) {
	select {
	case s.notifications <- n:
	default: // a slow fan-out loop must never block a request handler
	}
}

// Run starts the notification fan-out loop and blocks serving HTTP until
// ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go s.fanOut(ctx)

	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) fanOut(ctx context.Context) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-s.register:
			s.clients[ch] = struct{}{}
		case ch := <-s.unregister:
			delete(s.clients, ch)
			close(ch)
		case <-ping.C:
			s.broadcast(notification{Type: "ping"})
		case n := <-s.notifications:
			s.broadcast(n)
		}
	}
}

func (s *Server) broadcast(n notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// handleWS upgrades the connection and streams notifications until the
// client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 16)
	s.register <- ch
	defer func() { s.unregister <- ch }()

	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
