package fakeserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// recordAndFail logs every REST request and applies injected failures.
func (s *Server) recordAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		f, fail := s.failures[key]
		if fail {
			delete(s.failures, key)
		}
		s.mu.Unlock()

		if fail {
			writeDetail(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.accept(w, r, s.snapshot)
}

func (s *Server) listCells(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot().(notebook.Snapshot)
	writeJSON(w, http.StatusOK, map[string]any{"cells": snap.Cells, "states": snap.States})
}

func (s *Server) getCell(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	cell, i := notebook.Find(s.cells, id)
	st, hasState := s.states[id]
	s.mu.Unlock()
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Cell not found")
		return
	}
	out := map[string]any{"cell": cell, "state": nil}
	if hasState {
		out["state"] = st
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createCell(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type    string  `json:"type"`
		Code    string  `json:"code"`
		AsVar   *string `json:"as_var"`
		AfterID *string `json:"after_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return
	}
	kind, err := notebook.ParseKind(in.Type)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	cell := notebook.Cell{ID: notebook.NewID(), Kind: kind, Code: in.Code}
	if in.AsVar != nil {
		cell.As = *in.AsVar
	}

	s.mu.Lock()
	switch {
	case in.AfterID == nil:
		s.cells = append(s.cells, cell)
	case *in.AfterID == "":
		s.cells = append([]notebook.Cell{cell}, s.cells...)
	default:
		_, i := notebook.Find(s.cells, *in.AfterID)
		if i < 0 {
			s.cells = append(s.cells, cell)
		} else {
			s.cells = append(s.cells[:i+1], append([]notebook.Cell{cell}, s.cells[i+1:]...)...)
		}
	}
	s.mu.Unlock()

	s.broadcastCells()
	writeJSON(w, http.StatusOK, cell)
}

func (s *Server) updateCell(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Code  *string `json:"code"`
		Type  *string `json:"type"`
		AsVar *string `json:"as_var"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return
	}

	s.mu.Lock()
	_, i := notebook.Find(s.cells, id)
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Cell not found")
		return
	}
	if in.Code != nil {
		s.cells[i].Code = *in.Code
	}
	if in.Type != nil {
		if kind, err := notebook.ParseKind(*in.Type); err == nil {
			s.cells[i].Kind = kind
		}
	}
	if in.AsVar != nil {
		s.cells[i].As = *in.AsVar
	}
	cell := s.cells[i]
	s.mu.Unlock()

	s.broadcastCells()
	writeJSON(w, http.StatusOK, cell)
}

func (s *Server) deleteCell(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, i := notebook.Find(s.cells, id)
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Cell not found")
		return
	}
	s.cells = append(s.cells[:i], s.cells[i+1:]...)
	delete(s.states, id)
	s.mu.Unlock()

	s.broadcastCells()
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id, "removed_variables": []string{}})
}

// execute runs one cell: it pushes running, then a terminal status.
func (s *Server) execute(cell notebook.Cell) notebook.RunState {
	s.PushStatus(notebook.RunState{CellID: cell.ID, Status: notebook.StatusRunning})

	s.mu.Lock()
	connected := s.dbConnected
	s.mu.Unlock()

	st := notebook.RunState{CellID: cell.ID, Status: notebook.StatusSuccess}
	if cell.Kind == notebook.KindQuery && !connected {
		msg := "No database connection configured"
		st.Status = notebook.StatusError
		st.Error = &msg
	} else {
		out := cell.Code
		st.Output = &out
		st.OutputType = notebook.ResultText
	}
	s.PushStatus(st)
	return st
}

func (s *Server) runCell(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	cell, i := notebook.Find(s.cells, id)
	s.mu.Unlock()
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Cell not found")
		return
	}
	st := s.execute(cell)
	writeJSON(w, http.StatusOK, map[string]any{"results": []notebook.RunState{st}})
}

func (s *Server) runAll(w http.ResponseWriter, r *http.Request) {
	results := []notebook.RunState{}
	for _, cell := range s.Cells() {
		results = append(results, s.execute(cell))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.states = make(map[string]notebook.RunState)
	s.mu.Unlock()
	s.broadcastCells()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) configureDB(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConnectionString string `json:"connection_string"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ConnectionString == "" {
		writeDetail(w, http.StatusBadRequest, "connection_string is required")
		return
	}
	s.mu.Lock()
	s.dbConnected = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) dbStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	connected := s.dbConnected
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

func (s *Server) disconnectDB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dbConnected = false
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
