package cellsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// ErrUnknownCell is passed to flush continuations when the cell disappeared
// before its buffer could be sent.
var ErrUnknownCell = errors.New("unknown cell")

// Editor is the surface holding one text buffer per cell.
type Editor interface {
	// Code returns the current buffer of cell id.
	Code(id string) (string, bool)
	// SetCode replaces the buffer. The write must not be reported back as a
	// change.
	SetCode(id, code string)
	// Rebuild discards every buffer and creates one per cell.
	Rebuild(cells []notebook.Cell)
}

// Focuser is implemented by editors that can move focus themselves. The
// move must not be reported back as Focus or Blur.
type Focuser interface {
	FocusCell(id string)
}

// View receives everything the user should see.
type View interface {
	Indicators(id string, ind Indicators)
	RunState(st notebook.RunState)
	Connection(dbConnected bool)
	Alert(err error)
}

// Commands is the part of the command API the session uses.
// *command.Client implements it.
type Commands interface {
	CreateCell(ctx context.Context, req command.CreateRequest) (notebook.Cell, error)
	UpdateCell(ctx context.Context, id string, req command.UpdateRequest) (notebook.Cell, error)
	DeleteCell(ctx context.Context, id string) (*command.DeleteResult, error)
	RunCell(ctx context.Context, id string) (*command.RunResult, error)
	RunAll(ctx context.Context) (*command.RunResult, error)
	Reset(ctx context.Context) error
	Save(ctx context.Context) error
	ConfigureDatabase(ctx context.Context, connString string) error
}

// DraftStore journals unsaved buffers so they survive a restart.
type DraftStore interface {
	Put(ctx context.Context, cellID, code string) error
	Delete(ctx context.Context, cellID string) error
	Load(ctx context.Context) (map[string]string, error)
}

// Config holds session configuration.
type Config struct {
	// DebounceInterval is the quiet period before an edit is flushed
	DebounceInterval time.Duration

	// BlurGrace is how long a cell stays in editing after a blur
	BlurGrace time.Duration

	// AutoRun runs a cell after every successful debounced flush
	AutoRun bool

	// Scheduler for debounce and blur timers (default: wall clock)
	Scheduler Scheduler

	// Drafts journals unsaved buffers (optional)
	Drafts DraftStore

	// Logger for session activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: DefaultDebounceInterval,
		BlurGrace:        DefaultBlurGrace,
		Scheduler:        RealScheduler,
		Logger:           log.New(os.Stderr, "[session] ", log.LstdFlags),
	}
}

// Snapshot is a copy of the session's state for inspection.
type Snapshot struct {
	Cells       []notebook.Cell
	States      map[string]State
	Runs        map[string]notebook.RunState
	Focused     string
	AutoRun     bool
	DBConnected bool
}

type flushQueue struct {
	code    string // sent by the request in flight
	again   bool
	waiters []func(code string, err error)
}

// Session synchronizes one notebook. Create it with New, start it with Run
// and feed it editor events and transport messages.
type Session struct {
	config   *Config
	logger   *log.Logger
	editor   Editor
	view     View
	commands Commands
	drafts   DraftStore

	inbox chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	flushTimers *Debouncer
	blurTimers  *Debouncer

	// owned by the loop goroutine
	ctx         context.Context
	cells       []notebook.Cell
	states      map[string]*State
	runs        map[string]notebook.RunState
	flushing    map[string]*flushQueue
	focused     string
	wantFocus   string
	autoRun     bool
	dbConnected bool
}

// New creates a session with default configuration.
func New(editor Editor, view View, commands Commands) (*Session, error) {
	return NewWithConfig(editor, view, commands, DefaultConfig())
}

// NewWithConfig creates a session with custom configuration.
func NewWithConfig(editor Editor, view View, commands Commands, config *Config) (*Session, error) {
	if editor == nil {
		return nil, fmt.Errorf("editor cannot be nil")
	}
	if view == nil {
		return nil, fmt.Errorf("view cannot be nil")
	}
	if commands == nil {
		return nil, fmt.Errorf("commands cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultDebounceInterval
	}
	if config.BlurGrace <= 0 {
		config.BlurGrace = DefaultBlurGrace
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	s := &Session{
		config:   config,
		logger:   logger,
		editor:   editor,
		view:     view,
		commands: commands,
		drafts:   config.Drafts,
		inbox:    make(chan func(), 256),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		states:   make(map[string]*State),
		runs:     make(map[string]notebook.RunState),
		flushing: make(map[string]*flushQueue),
		autoRun:  config.AutoRun,
	}
	s.flushTimers = NewDebouncer(config.DebounceInterval, config.Scheduler, func(id string, gen uint64) {
		s.post(func() { s.debounceElapsed(id, gen) })
	})
	s.blurTimers = NewDebouncer(config.BlurGrace, config.Scheduler, func(id string, gen uint64) {
		s.post(func() { s.blurElapsed(id, gen) })
	})
	return s, nil
}

// Run processes events until ctx is cancelled. It waits for in-flight
// requests to return before returning.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Println("Session started")

	defer func() {
		s.flushTimers.CancelAll()
		s.blurTimers.CancelAll()
		close(s.done)
		s.wg.Wait()
		s.logger.Println("Session stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.inbox:
			fn()
		}
	}
}

// post queues fn for the loop. After Run returns it is dropped.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// spawn runs a blocking call off the loop. fn must post its result back.
func (s *Session) spawn(fn func(ctx context.Context)) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *Session) alert(err error) {
	s.logger.Printf("Error: %v", err)
	s.view.Alert(err)
}

// Editor and user inputs.

// Focus marks cell id as focused.
func (s *Session) Focus(id string) { s.post(func() { s.focus(id) }) }

// Blur starts the grace period after which cell id stops editing.
func (s *Session) Blur(id string) { s.post(func() { s.blur(id) }) }

// Change reports that the buffer of cell id changed.
func (s *Session) Change(id string) { s.post(func() { s.change(id) }) }

// Save flushes cell id now, cancelling its debounce timer.
func (s *Session) Save(id string) { s.post(func() { s.apply(id, Event{Kind: EventSave}) }) }

// SyncPending applies the withheld server version of cell id, if any.
func (s *Session) SyncPending(id string) { s.post(func() { s.apply(id, Event{Kind: EventSync}) }) }

// RunCell flushes cell id and then runs it.
func (s *Session) RunCell(id string) { s.post(func() { s.runCell(id) }) }

// RunAll flushes every unsaved cell and then runs the notebook.
func (s *Session) RunAll() { s.post(s.runAll) }

// RunFocusedAndAdvance runs the focused cell and moves focus to the next one.
func (s *Session) RunFocusedAndAdvance() { s.post(s.runFocusedAndAdvance) }

// NewCellBelow creates an empty cell after the focused one, or at the end
// when nothing is focused.
func (s *Session) NewCellBelow(kind notebook.Kind) { s.post(func() { s.newCellBelow(kind) }) }

// DeleteCell deletes cell id on the server.
func (s *Session) DeleteCell(id string) { s.post(func() { s.deleteCell(id) }) }

// SetAutoRun toggles running cells after each debounced flush.
func (s *Session) SetAutoRun(on bool) { s.post(func() { s.autoRun = on }) }

// Reset clears all run state on the server.
func (s *Session) Reset() { s.post(s.reset) }

// SaveNotebook flushes every unsaved cell and persists the notebook.
func (s *Session) SaveNotebook() { s.post(s.saveNotebook) }

// ConfigureDatabase sets the server's database connection.
func (s *Session) ConfigureDatabase(connString string) {
	s.post(func() { s.configureDatabase(connString) })
}

// Transport callbacks. Session implements transport.Handler.

// OnInit rebuilds everything from a full snapshot.
func (s *Session) OnInit(snap notebook.Snapshot) { s.post(func() { s.init(snap) }) }

// OnStatus applies one cell's run state.
func (s *Session) OnStatus(st notebook.RunState) { s.post(func() { s.status(st) }) }

// OnCellsUpdated reconciles a new cell list.
func (s *Session) OnCellsUpdated(cells []notebook.Cell) {
	s.post(func() { s.cellsUpdated(cells) })
}

// Snapshot returns a copy of the session's state. It waits for every event
// posted before it; Run must be running.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	s.post(func() { reply <- s.snapshot() })
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return Snapshot{}
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Cells:       notebook.Clone(s.cells),
		States:      make(map[string]State, len(s.states)),
		Runs:        make(map[string]notebook.RunState, len(s.runs)),
		Focused:     s.focused,
		AutoRun:     s.autoRun,
		DBConnected: s.dbConnected,
	}
	for id, st := range s.states {
		snap.States[id] = *st
	}
	for id, rs := range s.runs {
		snap.Runs[id] = rs
	}
	return snap
}

// apply feeds ev to the state of cell id and carries out the effects.
func (s *Session) apply(id string, ev Event) {
	st, ok := s.states[id]
	if !ok {
		return
	}
	wasUnsaved := st.Unsaved

	for _, eff := range st.Apply(ev) {
		switch eff.Kind {
		case EffectScheduleFlush:
			s.flushTimers.Schedule(id)
		case EffectCancelFlush:
			s.flushTimers.Cancel(id)
		case EffectFlush:
			var then func(string, error)
			if ev.Kind == EventDebounceElapsed {
				then = s.autoRunAfterFlush(id)
			}
			s.flush(id, then)
		case EffectScheduleBlur:
			s.blurTimers.Schedule(id)
		case EffectSetBuffer:
			s.editor.SetCode(id, eff.Code)
		case EffectIndicators:
			s.view.Indicators(id, st.Indicators())
		}
	}
	s.journal(id, ev, wasUnsaved, st)
}

// journal mirrors unsaved buffers into the draft store.
func (s *Session) journal(id string, ev Event, wasUnsaved bool, st *State) {
	if s.drafts == nil {
		return
	}
	var err error
	switch {
	case ev.Kind == EventChange && st.Unsaved:
		err = s.drafts.Put(s.ctx, id, ev.Buffer)
	case wasUnsaved && !st.Unsaved:
		err = s.drafts.Delete(s.ctx, id)
	}
	if err != nil {
		s.logger.Printf("Failed to journal draft for cell %s: %v", id, err)
	}
}

func (s *Session) focus(id string) {
	if _, ok := s.states[id]; !ok {
		return
	}
	s.focused = id
	s.apply(id, Event{Kind: EventFocus})
}

func (s *Session) blur(id string) {
	s.apply(id, Event{Kind: EventBlur})
}

func (s *Session) change(id string) {
	buf, ok := s.editor.Code(id)
	if !ok {
		return
	}
	s.apply(id, Event{Kind: EventChange, Buffer: buf})
}

func (s *Session) blurElapsed(id string, gen uint64) {
	if !s.blurTimers.Claim(id, gen) {
		return
	}
	st, ok := s.states[id]
	if !ok {
		return
	}
	s.apply(id, Event{Kind: EventBlurElapsed})
	if !st.Editing && s.focused == id {
		s.focused = ""
	}
}

func (s *Session) debounceElapsed(id string, gen uint64) {
	if !s.flushTimers.Claim(id, gen) {
		return
	}
	s.apply(id, Event{Kind: EventDebounceElapsed})
}

func (s *Session) autoRunAfterFlush(id string) func(string, error) {
	return func(code string, err error) {
		if err == nil && s.autoRun {
			s.execute(id, code)
		}
	}
}

// flush sends the buffer of cell id, read now, to the server. Flushes of one
// cell never overlap: a flush requested while another is in flight is
// queued and reads the buffer when it starts. then, if not nil, runs on the
// loop with the code that was sent and the outcome.
func (s *Session) flush(id string, then func(code string, err error)) {
	if q, busy := s.flushing[id]; busy {
		q.again = true
		if then != nil {
			q.waiters = append(q.waiters, then)
		}
		return
	}
	var waiters []func(string, error)
	if then != nil {
		waiters = append(waiters, then)
	}
	s.startFlush(id, waiters)
}

func (s *Session) startFlush(id string, waiters []func(string, error)) {
	code, ok := s.editor.Code(id)
	if _, exists := s.states[id]; !ok || !exists {
		for _, w := range waiters {
			w("", ErrUnknownCell)
		}
		return
	}

	s.flushing[id] = &flushQueue{code: code}
	s.spawn(func(ctx context.Context) {
		_, err := s.commands.UpdateCell(ctx, id, command.UpdateRequest{Code: command.String(code)})
		s.post(func() { s.flushDone(id, code, err, waiters) })
	})
}

func (s *Session) flushDone(id, code string, err error, waiters []func(string, error)) {
	q := s.flushing[id]
	delete(s.flushing, id)

	if _, ok := s.states[id]; !ok {
		if err == nil {
			err = ErrUnknownCell
		}
	} else if err != nil {
		s.apply(id, Event{Kind: EventFlushFailed})
		s.alert(fmt.Errorf("failed to save cell %s: %w", id, err))
	} else {
		buf, _ := s.editor.Code(id)
		s.apply(id, Event{Kind: EventFlushSucceeded, Code: code, Buffer: buf})
		// the server now has code; its echo is not a content change
		if _, i := notebook.Find(s.cells, id); i >= 0 {
			s.cells[i].Code = code
		}
	}

	for _, w := range waiters {
		w(code, err)
	}
	if q != nil && q.again {
		s.startFlush(id, q.waiters)
	}
}

// flushUnsaved flushes every cell with edits the server has not seen and
// calls then with the first error once all have finished.
func (s *Session) flushUnsaved(then func(error)) {
	var ids []string
	for _, c := range s.cells {
		st := s.states[c.ID]
		if st == nil {
			continue
		}
		if st.Unsaved || s.flushTimers.Pending(c.ID) || s.flushing[c.ID] != nil {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		then(nil)
		return
	}

	remaining := len(ids)
	var firstErr error
	for _, id := range ids {
		s.flushTimers.Cancel(id)
		s.flush(id, func(_ string, err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
			remaining--
			if remaining == 0 {
				then(firstErr)
			}
		})
	}
}

func (s *Session) runCell(id string) {
	if _, ok := s.states[id]; !ok {
		return
	}
	s.flushTimers.Cancel(id)
	s.flush(id, func(code string, err error) {
		if err != nil {
			return
		}
		s.execute(id, code)
	})
}

// execute asks the server to run cell id, whose server copy is code.
func (s *Session) execute(id, code string) {
	if _, ok := s.states[id]; !ok {
		return
	}
	s.apply(id, Event{Kind: EventRunRequested, Code: code})
	s.spawn(func(ctx context.Context) {
		if _, err := s.commands.RunCell(ctx, id); err != nil {
			s.post(func() { s.runFailed([]string{id}, err) })
		}
	})
}

func (s *Session) runFailed(ids []string, err error) {
	for _, id := range ids {
		if buf, ok := s.editor.Code(id); ok {
			s.apply(id, Event{Kind: EventRunFailed, Buffer: buf})
		}
	}
	s.alert(fmt.Errorf("failed to run: %w", err))
}

func (s *Session) runAll() {
	s.flushUnsaved(func(err error) {
		if err != nil {
			return
		}
		ids := notebook.IDs(s.cells)
		for _, id := range ids {
			if st, ok := s.states[id]; ok {
				s.apply(id, Event{Kind: EventRunRequested, Code: st.ServerCode()})
			}
		}
		s.spawn(func(ctx context.Context) {
			if _, err := s.commands.RunAll(ctx); err != nil {
				s.post(func() { s.runFailed(ids, err) })
			}
		})
	})
}

func (s *Session) runFocusedAndAdvance() {
	id := s.focused
	if id == "" {
		return
	}
	s.runCell(id)

	_, i := notebook.Find(s.cells, id)
	if i < 0 || i+1 >= len(s.cells) {
		return
	}
	s.moveFocus(s.cells[i+1].ID)
}

// moveFocus focuses cell id in the editor, if it can, and in the session.
func (s *Session) moveFocus(id string) {
	f, ok := s.editor.(Focuser)
	if !ok {
		return
	}
	if s.focused != "" && s.focused != id {
		s.blur(s.focused)
	}
	f.FocusCell(id)
	s.focus(id)
}

func (s *Session) newCellBelow(kind notebook.Kind) {
	req := command.CreateRequest{Kind: kind}
	if s.focused != "" {
		req.AfterID = command.String(s.focused)
	}
	s.spawn(func(ctx context.Context) {
		cell, err := s.commands.CreateCell(ctx, req)
		s.post(func() {
			if err != nil {
				s.alert(fmt.Errorf("failed to create cell: %w", err))
				return
			}
			s.logger.Printf("Created cell %s", cell.ID)
			s.wantFocus = cell.ID
			s.focusWanted()
		})
	})
}

// focusWanted focuses a newly created cell once it has been rendered.
func (s *Session) focusWanted() {
	id := s.wantFocus
	if id == "" {
		return
	}
	if _, ok := s.states[id]; !ok {
		return
	}
	s.wantFocus = ""
	s.moveFocus(id)
}

func (s *Session) deleteCell(id string) {
	if _, ok := s.states[id]; !ok {
		return
	}
	s.flushTimers.Cancel(id)
	s.blurTimers.Cancel(id)
	s.spawn(func(ctx context.Context) {
		_, err := s.commands.DeleteCell(ctx, id)
		s.post(func() {
			if err != nil {
				s.alert(fmt.Errorf("failed to delete cell %s: %w", id, err))
				return
			}
			s.dropDraft(id)
		})
	})
}

func (s *Session) dropDraft(id string) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.Delete(s.ctx, id); err != nil {
		s.logger.Printf("Failed to delete draft for cell %s: %v", id, err)
	}
}

func (s *Session) reset() {
	s.spawn(func(ctx context.Context) {
		err := s.commands.Reset(ctx)
		s.post(func() {
			if err != nil {
				s.alert(fmt.Errorf("failed to reset notebook: %w", err))
				return
			}
			s.runs = make(map[string]notebook.RunState)
			for _, c := range s.cells {
				s.apply(c.ID, Event{Kind: EventRunsCleared})
				s.view.RunState(notebook.RunState{CellID: c.ID, Status: notebook.StatusIdle})
			}
		})
	})
}

func (s *Session) saveNotebook() {
	s.flushUnsaved(func(err error) {
		if err != nil {
			return
		}
		s.spawn(func(ctx context.Context) {
			err := s.commands.Save(ctx)
			s.post(func() {
				if err != nil {
					s.alert(fmt.Errorf("failed to save notebook: %w", err))
					return
				}
				s.logger.Println("Notebook saved")
			})
		})
	})
}

func (s *Session) configureDatabase(connString string) {
	s.spawn(func(ctx context.Context) {
		err := s.commands.ConfigureDatabase(ctx, connString)
		s.post(func() {
			if err != nil {
				s.alert(fmt.Errorf("failed to configure database: %w", err))
				return
			}
			s.dbConnected = true
			s.view.Connection(true)
		})
	})
}

// Server pushes.

func (s *Session) init(snap notebook.Snapshot) {
	s.logger.Printf("Received snapshot with %d cells", len(snap.Cells))
	s.rebuild(snap.Cells)

	s.runs = make(map[string]notebook.RunState, len(snap.States))
	for _, c := range s.cells {
		rs, ok := snap.States[c.ID]
		if !ok {
			continue
		}
		s.runs[c.ID] = rs
		if rs.Status.IsTerminal() {
			s.states[c.ID].MarkExecuted(c.Code)
		}
		s.view.RunState(rs)
	}

	s.dbConnected = snap.DBConnected
	s.view.Connection(s.dbConnected)

	s.restoreDrafts()
	s.focusWanted()
}

func (s *Session) status(rs notebook.RunState) {
	if _, ok := s.states[rs.CellID]; !ok {
		return
	}
	s.runs[rs.CellID] = rs
	s.view.RunState(rs)

	var kind EventKind
	switch {
	case rs.Status.IsTerminal():
		kind = EventRunFinished
	case rs.Status == notebook.StatusBlocked, rs.Status == notebook.StatusIdle:
		kind = EventRunSettled
	default:
		return
	}
	buf, ok := s.editor.Code(rs.CellID)
	if !ok {
		return
	}
	s.apply(rs.CellID, Event{Kind: kind, Buffer: buf})
}

func (s *Session) cellsUpdated(cells []notebook.Cell) {
	switch Classify(s.cells, cells) {
	case ChangeStructural:
		s.logger.Printf("Structural change (%d -> %d cells), rebuilding", len(s.cells), len(cells))
		s.rebuild(cells)

		for id := range s.runs {
			if _, ok := s.states[id]; !ok {
				delete(s.runs, id)
			}
		}
		for _, c := range s.cells {
			if rs, ok := s.runs[c.ID]; ok {
				s.view.RunState(rs)
			}
		}
		s.restoreDrafts()
		s.focusWanted()

	case ChangeContent:
		for _, id := range Diff(s.cells, cells) {
			cell, _ := notebook.Find(cells, id)
			// echo of our own flush, racing its response
			if q := s.flushing[id]; q != nil && q.code == cell.Code {
				continue
			}
			buf, ok := s.editor.Code(id)
			if !ok {
				continue
			}
			s.apply(id, Event{Kind: EventServerPush, Code: cell.Code, Buffer: buf})
		}
		s.cells = notebook.Clone(cells)

	default:
		s.cells = notebook.Clone(cells)
	}
}

// rebuild discards every state and timer and recreates them from cells.
func (s *Session) rebuild(cells []notebook.Cell) {
	s.flushTimers.CancelAll()
	s.blurTimers.CancelAll()

	s.cells = notebook.Clone(cells)
	s.states = make(map[string]*State, len(s.cells))
	for _, c := range s.cells {
		s.states[c.ID] = NewState(c.Code)
	}
	s.focused = ""

	s.editor.Rebuild(notebook.Clone(s.cells))
	for _, c := range s.cells {
		s.view.Indicators(c.ID, Indicators{})
	}
}

// restoreDrafts puts journaled edits back into their buffers as unsaved
// changes and forgets drafts that no longer apply.
func (s *Session) restoreDrafts() {
	if s.drafts == nil {
		return
	}
	drafts, err := s.drafts.Load(s.ctx)
	if err != nil {
		s.logger.Printf("Failed to load drafts: %v", err)
		return
	}

	for _, c := range s.cells {
		code, ok := drafts[c.ID]
		if !ok {
			continue
		}
		delete(drafts, c.ID)
		if code == c.Code {
			s.dropDraft(c.ID)
			continue
		}
		s.logger.Printf("Restoring unsaved draft for cell %s", c.ID)
		s.editor.SetCode(c.ID, code)
		s.apply(c.ID, Event{Kind: EventChange, Buffer: code})
	}
	for id := range drafts {
		s.dropDraft(id)
	}
}
