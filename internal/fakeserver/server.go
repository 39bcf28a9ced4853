package fakeserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:0, a random free port)
	Addr string

	// Cells the notebook starts with
	Cells []notebook.Cell

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(os.Stderr, "[fakeserver] ", log.LstdFlags),
	}
}

// Request is one REST request as seen by the server.
type Request struct {
	Method string
	Path   string
	Body   string
}

type failure struct {
	status int
	detail string
}

// Server is an in-memory notebook server.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	hub      *hub
	logger   *log.Logger

	mu          sync.Mutex
	cells       []notebook.Cell
	states      map[string]notebook.RunState
	dbConnected bool
	saves       int
	requests    []Request
	failures    map[string]failure // "METHOD path" -> failure for the next matching request
}

// New creates a server; call Start to begin listening.
func New(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[fakeserver] ", log.LstdFlags)
	}
	return &Server{
		addr:     config.Addr,
		logger:   config.Logger,
		cells:    notebook.Clone(config.Cells),
		states:   make(map[string]notebook.RunState),
		failures: make(map[string]failure),
	}
}

// Start begins serving HTTP and websocket requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.hub = newHub(s.logger)

	s.server = &http.Server{Handler: s.Router()}

	go func() {
		s.logger.Printf("Fake notebook server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down and closes all websocket clients.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.hub.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Router returns the HTTP handler with every endpoint registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			s.logger.Printf("handled %s %s status=%d duration=%s", req.Method, req.URL.Path, m.Code, m.Duration)
		})
	})
	r.Use(s.recordAndFail)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWebSocket)

	// literal paths must be registered before /cells/{id}
	r.Methods(http.MethodPost).Path("/cells/run-all").HandlerFunc(s.runAll)
	r.Methods(http.MethodPost).Path("/cells/reset").HandlerFunc(s.reset)
	r.Methods(http.MethodPost).Path("/cells/save").HandlerFunc(s.save)

	r.Methods(http.MethodGet).Path("/cells").HandlerFunc(s.listCells)
	r.Methods(http.MethodPost).Path("/cells").HandlerFunc(s.createCell)
	r.Methods(http.MethodGet).Path("/cells/{id}").HandlerFunc(s.getCell)
	r.Methods(http.MethodPut).Path("/cells/{id}").HandlerFunc(s.updateCell)
	r.Methods(http.MethodDelete).Path("/cells/{id}").HandlerFunc(s.deleteCell)
	r.Methods(http.MethodPost).Path("/cells/{id}/run").HandlerFunc(s.runCell)

	r.Methods(http.MethodPost).Path("/config/db").HandlerFunc(s.configureDB)
	r.Methods(http.MethodGet).Path("/config/db").HandlerFunc(s.dbStatus)
	r.Methods(http.MethodDelete).Path("/config/db").HandlerFunc(s.disconnectDB)
	return r
}

// URL returns the base HTTP address.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// WebSocketURL returns the push channel address.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Addr() + "/ws"
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	return s.hub.clientCount()
}

// Pings returns how many heartbeat pings the server has received.
func (s *Server) Pings() int {
	return s.hub.pingCount()
}

// DropConnections closes every websocket client, as if the network failed.
func (s *Server) DropConnections() {
	s.hub.dropAll(websocket.StatusGoingAway, "dropped")
}

// PushStatus broadcasts a run state without running anything.
func (s *Server) PushStatus(st notebook.RunState) {
	s.mu.Lock()
	s.states[st.CellID] = st
	s.mu.Unlock()
	s.hub.send(MessageTypeStatus, st)
}

// PushRaw broadcasts an arbitrary frame.
func (s *Server) PushRaw(frame string) {
	s.hub.sendRaw([]byte(frame))
}

// SetCells replaces the cell list as another client would and broadcasts it.
func (s *Server) SetCells(cells []notebook.Cell) {
	s.mu.Lock()
	s.cells = notebook.Clone(cells)
	s.mu.Unlock()
	s.broadcastCells()
}

// SetCode changes one cell's code as another client would and broadcasts it.
func (s *Server) SetCode(id, code string) bool {
	s.mu.Lock()
	_, i := notebook.Find(s.cells, id)
	if i >= 0 {
		s.cells[i].Code = code
	}
	s.mu.Unlock()
	if i < 0 {
		return false
	}
	s.broadcastCells()
	return true
}

// Cells returns a copy of the current cell list.
func (s *Server) Cells() []notebook.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return notebook.Clone(s.cells)
}

// Saves returns how many times the notebook was saved.
func (s *Server) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Requests returns every REST request received, in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// FailNext makes the next request matching method and path fail with status
// and a {"detail": detail} body.
func (s *Server) FailNext(method, path string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, detail: detail}
}

func (s *Server) broadcastCells() {
	s.mu.Lock()
	cells := notebook.Clone(s.cells)
	s.mu.Unlock()
	if cells == nil {
		cells = []notebook.Cell{}
	}
	s.hub.send(MessageTypeCellsUpdated, cells)
}

func (s *Server) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cells := notebook.Clone(s.cells)
	if cells == nil {
		cells = []notebook.Cell{}
	}
	states := make(map[string]notebook.RunState, len(s.states))
	for id, st := range s.states {
		states[id] = st
	}
	return notebook.Snapshot{Cells: cells, States: states, DBConnected: s.dbConnected}
}
