// Package fakeserver is an in-process notebook server speaking the same REST
// and websocket protocol as the real one. Cells live in memory and runs
// complete instantly; tests use the hooks to inject status pushes, fail
// requests and drop connections.
package fakeserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of push message.
type MessageType string

const (
	// MessageTypeInit carries the full snapshot sent to a new connection
	MessageTypeInit MessageType = "init"

	// MessageTypeStatus carries one cell's run state
	MessageTypeStatus MessageType = "status"

	// MessageTypeCellsUpdated carries the full cell list after any change
	MessageTypeCellsUpdated MessageType = "cells_updated"

	// MessageTypePong acknowledges a client ping
	MessageTypePong MessageType = "pong"
)

// Message is the push channel envelope.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// hub manages websocket clients and broadcasts push messages to them.
type hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger

	// pings counts ping messages received across all clients
	pings   int
	pingsMu sync.Mutex
}

func newHub(logger *log.Logger) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

func (h *hub) stop() {
	h.cancel()
	h.dropAll(websocket.StatusGoingAway, "Server shutting down")
	h.wg.Wait()
}

// send queues a message for every connected client.
func (h *hub) send(typ MessageType, data any) {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Printf("Failed to marshal %s data: %v", typ, err)
			return
		}
		msg.Data = raw
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("Failed to marshal message: %v", err)
		return
	}
	h.sendRaw(encoded)
}

// sendRaw queues an already encoded frame, which may be deliberately malformed.
func (h *hub) sendRaw(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.ctx.Done():
	default:
		h.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (h *hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case data := <-h.broadcast:
			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// accept upgrades the request, sends the init snapshot and keeps reading
// until the client goes away.
func (h *hub) accept(w http.ResponseWriter, r *http.Request, snapshot func() any) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// snapshot and register under one lock so no push is lost
	h.clientsMu.Lock()
	init, err := json.Marshal(snapshot())
	if err != nil {
		h.clientsMu.Unlock()
		h.logger.Printf("Failed to marshal snapshot: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	frame, _ := json.Marshal(Message{Type: MessageTypeInit, Data: init})

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, frame)
	cancel()
	if err != nil {
		h.clientsMu.Unlock()
		h.logger.Printf("Failed to send init: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("Client connected (total: %d)", count)

	h.readLoop(conn)
}

func (h *hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		_, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.pingsMu.Lock()
			h.pings++
			h.pingsMu.Unlock()

			pong, _ := json.Marshal(Message{Type: MessageTypePong})
			ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, pong)
			cancel()
		}
	}
}

func (h *hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", count)
	} else {
		h.clientsMu.Unlock()
	}
}

// dropAll closes every client connection.
func (h *hub) dropAll(code websocket.StatusCode, reason string) {
	h.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(code, reason)
	}
}

func (h *hub) clientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *hub) pingCount() int {
	h.pingsMu.Lock()
	defer h.pingsMu.Unlock()
	return h.pings
}
