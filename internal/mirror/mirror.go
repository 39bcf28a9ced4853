// Package mirror is a file-backed editor surface: every cell is mirrored to
// one file in a directory, so any text editor can edit the notebook.
//
// Files are named NNN-<id>.py or NNN-<id>.sql, NNN being the cell's 1-based
// position. A file written by someone else with contents that differ from
// the mirrored buffer counts as an edit: the cell is focused (if it was not
// already) and a change is reported. Editing ends after the file has been
// idle for IdleTimeout. Writes made by the mirror itself are not reported.
//
// The directory is owned by the mirror. Rebuild deletes every file in it
// that looks like a cell file.
package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// DefaultIdleTimeout is how long a file may go unwritten before its cell
// stops being edited.
const DefaultIdleTimeout = 3 * time.Second

var namePattern = regexp.MustCompile(`^\d{3,}-([A-Za-z0-9_-]+)\.(py|sql)$`)

// Inputs receives the editing events the mirror detects.
// *cellsync.Session implements it.
type Inputs interface {
	Focus(id string)
	Blur(id string)
	Change(id string)
}

// Config holds mirror configuration.
type Config struct {
	// Dir is the directory the cells are mirrored into
	Dir string

	// IdleTimeout ends editing after a file has not been written for this long
	IdleTimeout time.Duration

	// Logger for mirror activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dir:         "cells",
		IdleTimeout: DefaultIdleTimeout,
		Logger:      log.New(os.Stderr, "[mirror] ", log.LstdFlags),
	}
}

type cellFile struct {
	name string
	code string
}

// Mirror implements cellsync.Editor over a directory.
type Mirror struct {
	dir     string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	active  *ttlcache.Cache[string, struct{}]

	mu      sync.Mutex
	cells   map[string]cellFile // id -> file
	byName  map[string]string   // file name -> id
	editing map[string]bool
	inputs  Inputs
	running bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a mirror of the configured directory, creating it if needed.
// Call Start to begin watching.
func New(config *Config) (*Mirror, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", config.Dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	m := &Mirror{
		dir:     dir,
		logger:  logger,
		watcher: watcher,
		active: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](config.IdleTimeout),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		cells:   make(map[string]cellFile),
		byName:  make(map[string]string),
		editing: make(map[string]bool),
		done:    make(chan struct{}),
	}
	m.active.OnEviction(m.onIdle)
	return m, nil
}

// Dir returns the absolute mirror directory.
func (m *Mirror) Dir() string {
	return m.dir
}

// FileName returns the file name of the cell at index i.
func FileName(i int, c notebook.Cell) string {
	return fmt.Sprintf("%03d-%s%s", i+1, c.ID, c.Kind.Extension())
}

// Path returns the file backing cell id.
func (m *Mirror) Path(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cf, ok := m.cells[id]
	if !ok {
		return "", false
	}
	return filepath.Join(m.dir, cf.name), true
}

// Start begins watching the directory and reporting edits to inputs.
func (m *Mirror) Start(inputs Inputs) error {
	if inputs == nil {
		return fmt.Errorf("inputs cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("mirror already running")
	}
	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.dir, err)
	}
	m.inputs = inputs
	m.running = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.active.Start()
	}()
	go m.processEvents()

	m.logger.Printf("Watching %s", m.dir)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (m *Mirror) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	err := m.watcher.Close()
	m.active.Stop()
	m.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Code returns the mirrored buffer of cell id.
func (m *Mirror) Code(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cf, ok := m.cells[id]
	return cf.code, ok
}

// SetCode replaces the buffer of cell id and rewrites its file.
func (m *Mirror) SetCode(id, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cf, ok := m.cells[id]
	if !ok {
		return
	}
	cf.code = code
	m.cells[id] = cf
	if err := m.write(cf.name, code); err != nil {
		m.logger.Printf("Failed to write cell %s: %v", id, err)
	}
}

// Rebuild deletes every cell file and writes one per cell.
func (m *Mirror) Rebuild(cells []notebook.Cell) {
	m.active.DeleteAll()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.removeCellFiles(); err != nil {
		m.logger.Printf("Failed to clear %s: %v", m.dir, err)
	}
	m.cells = make(map[string]cellFile, len(cells))
	m.byName = make(map[string]string, len(cells))
	m.editing = make(map[string]bool)

	for i, c := range cells {
		name := FileName(i, c)
		m.cells[c.ID] = cellFile{name: name, code: c.Code}
		m.byName[name] = c.ID
		if err := m.write(name, c.Code); err != nil {
			m.logger.Printf("Failed to write cell %s: %v", c.ID, err)
		}
	}
	m.logger.Printf("Mirrored %d cells into %s", len(cells), m.dir)
}

// write stores code with a trailing newline, which fileWritten strips again.
// The file is replaced by rename so the watcher never reads a partial write.
func (m *Mirror) write(name, code string) error {
	tmp, err := os.CreateTemp(m.dir, ".cellsync-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(code + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(m.dir, name))
}

func (m *Mirror) removeCellFiles() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !namePattern.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// processEvents turns fsnotify events into editing events.
func (m *Mirror) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			// editors that save by rename show up as Create
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				m.fileWritten(event.Name)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (m *Mirror) fileWritten(path string) {
	name := filepath.Base(path)

	m.mu.Lock()
	id, ok := m.byName[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Printf("Failed to read %s: %v", name, err)
		}
		return
	}
	code := strings.TrimSuffix(string(data), "\n")

	m.mu.Lock()
	cf, ok := m.cells[id]
	if !ok || cf.code == code {
		m.mu.Unlock()
		return
	}
	cf.code = code
	m.cells[id] = cf
	focus := !m.editing[id]
	m.editing[id] = true
	inputs := m.inputs
	m.mu.Unlock()

	m.active.Set(id, struct{}{}, ttlcache.DefaultTTL)
	if focus {
		inputs.Focus(id)
	}
	inputs.Change(id)
}

// onIdle ends editing of a cell whose file went quiet.
func (m *Mirror) onIdle(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
	if reason != ttlcache.EvictionReasonExpired {
		return
	}
	id := item.Key()

	m.mu.Lock()
	editing := m.editing[id]
	delete(m.editing, id)
	inputs := m.inputs
	m.mu.Unlock()

	if editing && inputs != nil {
		m.logger.Printf("Cell %s idle, ending edit", id)
		inputs.Blur(id)
	}
}
