// Package websocket fans dashboard snapshots out to connected clients. A
// single hub goroutine owns the client set; per-connection writers decouple
// slow sockets from the broadcast path.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fwintner/marketpulse/internal/dashboard"
	"github.com/fwintner/marketpulse/internal/metrics"
)

const writeWait = 5 * time.Second

// --- Command types ---

type hubCmd interface{ hubCmd() }

type registerReply struct {
	id  uuid.UUID
	err error
}

type cmdRegister struct {
	conn    *websocket.Conn
	replyCh chan registerReply
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	id uuid.UUID
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	data []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdClientCount struct {
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) hubCmd() {}

// --- Per-connection writer ---

type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// --- Hub ---

// snapshotEnvelope is the wire format pushed to clients.
type snapshotEnvelope struct {
	Type string             `json:"type"`
	Data dashboard.Snapshot `json:"data"`
}

// Hub broadcasts every published snapshot to all connected clients and
// replays the latest one to newly connected ones.
type Hub struct {
	cmdCh      chan hubCmd
	maxClients int

	// Hub-goroutine state.
	clients  map[uuid.UUID]*clientWriter
	lastSnap []byte

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ dashboard.Broadcaster = (*Hub)(nil)

func NewHub(maxClients int) *Hub {
	hub := &Hub{
		cmdCh:      make(chan hubCmd, 256),
		maxClients: maxClients,
		clients:    make(map[uuid.UUID]*clientWriter),
		stopCh:     make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.id)
		case cmdBroadcast:
			h.handleBroadcast(c.data)
		case cmdClientCount:
			c.replyCh <- len(h.clients)
		case cmdStop:
			h.handleStop()
			close(c.doneCh)
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	if len(h.clients) >= h.maxClients {
		slog.Warn("Rejecting websocket client: connection limit reached", "max_clients", h.maxClients)
		c.conn.Close()
		c.replyCh <- registerReply{err: fmt.Errorf("connection limit (%d) reached", h.maxClients)}
		return
	}

	id := uuid.New()
	cw := newClientWriter(c.conn)
	h.clients[id] = cw
	metrics.WebSocketClientsCurrent.Set(float64(len(h.clients)))
	slog.Info("WebSocket client connected", "client_id", id, "total_clients", len(h.clients))

	// Replay the latest snapshot so the client renders without waiting for
	// the next state change.
	if h.lastSnap != nil {
		select {
		case cw.sendCh <- h.lastSnap:
		default:
		}
	}
	c.replyCh <- registerReply{id: id}
}

func (h *Hub) handleUnregister(id uuid.UUID) {
	cw, exists := h.clients[id]
	if !exists {
		return
	}
	cw.stop()
	delete(h.clients, id)
	metrics.WebSocketClientsCurrent.Set(float64(len(h.clients)))
	slog.Info("WebSocket client disconnected", "client_id", id, "total_clients", len(h.clients))
}

func (h *Hub) handleBroadcast(data []byte) {
	h.lastSnap = data

	var slow []uuid.UUID
	for id, cw := range h.clients {
		select {
		case cw.sendCh <- data:
		default:
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		slog.Warn("Disconnecting slow websocket client", "client_id", id)
		metrics.WebSocketSlowClientsEvicted.Inc()
		h.handleUnregister(id)
	}
}

func (h *Hub) handleStop() {
	for id, cw := range h.clients {
		cw.stop()
		delete(h.clients, id)
	}
	metrics.WebSocketClientsCurrent.Set(0)
	close(h.stopCh)
}

// --- Public API ---

// Publish implements dashboard.Broadcaster. Called on every state mutation.
func (h *Hub) Publish(snap dashboard.Snapshot) {
	data, err := json.Marshal(snapshotEnvelope{Type: "snapshot", Data: snap})
	if err != nil {
		slog.Error("Failed to marshal snapshot", "error", err)
		return
	}
	h.send(cmdBroadcast{data: data})
}

// Register adds a connection and returns its client ID. The connection is
// closed on rejection.
func (h *Hub) Register(conn *websocket.Conn) (uuid.UUID, error) {
	replyCh := make(chan registerReply, 1)
	h.send(cmdRegister{conn: conn, replyCh: replyCh})
	select {
	case reply := <-replyCh:
		return reply.id, reply.err
	case <-h.stopCh:
		conn.Close()
		return uuid.Nil, fmt.Errorf("hub stopped")
	}
}

// Unregister removes a connection by client ID.
func (h *Hub) Unregister(id uuid.UUID) {
	h.send(cmdUnregister{id: id})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.send(cmdClientCount{replyCh: replyCh})
	select {
	case n := <-replyCh:
		return n
	case <-h.stopCh:
		return 0
	}
}

// Stop disconnects every client and shuts the hub down. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		h.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	})
}

func (h *Hub) send(cmd hubCmd) {
	select {
	case h.cmdCh <- cmd:
	case <-h.stopCh:
	}
}
