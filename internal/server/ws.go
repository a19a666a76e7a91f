// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ottodev/internal/transcript"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = (wsPongWait * 9) / 10
	wsMaxMessage   = 4096
)

// ============================================================================
// CONNECTION POOL
// ============================================================================

// ConnectionPool tracks WebSocket clients and fans snapshots out to them.
// Writes are serialized by the pool lock; a client that fails a write is
// dropped.
type ConnectionPool struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	log   zerolog.Logger
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(logger zerolog.Logger) *ConnectionPool {
	return &ConnectionPool{
		conns: make(map[*websocket.Conn]struct{}),
		log:   logger,
	}
}

// Add registers conn.
func (cp *ConnectionPool) Add(conn *websocket.Conn) {
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

// Remove unregisters and closes conn.
func (cp *ConnectionPool) Remove(conn *websocket.Conn) {
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

// Broadcast writes data to every client.
func (cp *ConnectionPool) Broadcast(data []byte) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		cp.writeLocked(conn, websocket.TextMessage, data)
	}
}

// SendToOne writes data to a single registered client.
func (cp *ConnectionPool) SendToOne(conn *websocket.Conn, data []byte) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; ok {
		cp.writeLocked(conn, websocket.TextMessage, data)
	}
}

// Ping sends a ping control frame to every client.
func (cp *ConnectionPool) Ping() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		cp.writeLocked(conn, websocket.PingMessage, nil)
	}
}

func (cp *ConnectionPool) writeLocked(conn *websocket.Conn, kind int, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(kind, data); err != nil {
		cp.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("ws write failed, dropping connection")
		delete(cp.conns, conn)
		_ = conn.Close()
	}
}

// Count returns the number of connected clients.
func (cp *ConnectionPool) Count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

// CloseAll sends a close frame to every client and forgets them.
func (cp *ConnectionPool) CloseAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for conn := range cp.conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		delete(cp.conns, conn)
	}
}

// ============================================================================
// SNAPSHOT EVENTS
// ============================================================================

// wsEvent is the document pushed to browser clients.
type wsEvent struct {
	Type     string           `json:"type"`
	Snapshot snapshotResponse `json:"snapshot"`
}

func encodeSnapshotEvent(snap transcript.Snapshot) ([]byte, error) {
	return json.Marshal(wsEvent{Type: "snapshot", Snapshot: newSnapshotResponse(snap)})
}

// broadcast pushes every transcript change to the pool until ctx ends.
func (s *Server) broadcast(ctx context.Context) {
	defer close(s.broadcastDone)

	updates, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			s.pool.Ping()
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if s.pool.Count() == 0 {
				continue
			}
			data, err := encodeSnapshotEvent(snap)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to encode snapshot")
				continue
			}
			s.pool.Broadcast(data)
		}
	}
}

// ============================================================================
// HANDLER
// ============================================================================

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.pool.Add(conn)
	defer s.pool.Remove(conn)

	data, err := encodeSnapshotEvent(s.session.Snapshot())
	if err == nil {
		s.pool.SendToOne(conn, data)
	}

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Clients only listen; reading keeps control frames flowing and notices
	// the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

// checkOrigin accepts same-origin requests and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	return s.cors.isOriginAllowed(origin)
}
