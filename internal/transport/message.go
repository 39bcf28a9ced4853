package transport

import (
	"encoding/json"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// MessageType is the discriminator of a push channel message.
type MessageType string

const (
	// MessageTypeInit carries a full snapshot and triggers a full rebuild
	MessageTypeInit MessageType = "init"

	// MessageTypeStatus carries one cell's run state
	MessageTypeStatus MessageType = "status"

	// MessageTypeCellsUpdated carries the new full cell list
	MessageTypeCellsUpdated MessageType = "cells_updated"

	// MessageTypePong acknowledges a heartbeat
	MessageTypePong MessageType = "pong"

	// MessageTypePing is the only message the client sends
	MessageTypePing MessageType = "ping"
)

// Envelope is the wire form of every message: {"type": ..., "data": ...}.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler receives decoded inbound messages. Pong needs no handler.
type Handler interface {
	OnInit(notebook.Snapshot)
	OnStatus(notebook.RunState)
	OnCellsUpdated([]notebook.Cell)
}

// HandlerFuncs adapts plain functions to Handler; nil fields are ignored.
type HandlerFuncs struct {
	Init         func(notebook.Snapshot)
	Status       func(notebook.RunState)
	CellsUpdated func([]notebook.Cell)
}

func (h HandlerFuncs) OnInit(s notebook.Snapshot) {
	if h.Init != nil {
		h.Init(s)
	}
}

func (h HandlerFuncs) OnStatus(st notebook.RunState) {
	if h.Status != nil {
		h.Status(st)
	}
}

func (h HandlerFuncs) OnCellsUpdated(cells []notebook.Cell) {
	if h.CellsUpdated != nil {
		h.CellsUpdated(cells)
	}
}
