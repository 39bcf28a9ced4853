package cellsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// manualClock is a Scheduler driven by Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	var live []*manualTimer
	for _, t := range c.timers {
		switch {
		case t.stopped || t.fired:
		case t.at <= c.now:
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Live returns the number of timers neither stopped nor fired.
func (c *manualClock) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// memEditor keeps buffers in memory.
type memEditor struct {
	mu       sync.Mutex
	buffers  map[string]string
	order    []string
	sets     []string
	rebuilds int
	focus    string
}

func newMemEditor() *memEditor {
	return &memEditor{buffers: make(map[string]string)}
}

func (e *memEditor) Code(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	code, ok := e.buffers[id]
	return code, ok
}

func (e *memEditor) SetCode(id, code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[id]; ok {
		e.buffers[id] = code
		e.sets = append(e.sets, id)
	}
}

func (e *memEditor) Rebuild(cells []notebook.Cell) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers = make(map[string]string, len(cells))
	e.order = notebook.IDs(cells)
	for _, c := range cells {
		e.buffers[c.ID] = c.Code
	}
	e.rebuilds++
}

func (e *memEditor) FocusCell(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focus = id
}

// typeCode changes a buffer as the user would, without telling the session.
func (e *memEditor) typeCode(id, code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers[id] = code
}

func (e *memEditor) buffer(id string) string {
	code, _ := e.Code(id)
	return code
}

func (e *memEditor) setCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sets)
}

func (e *memEditor) rebuildCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuilds
}

func (e *memEditor) focused() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focus
}

// recordingView keeps the latest value of everything shown.
type recordingView struct {
	mu          sync.Mutex
	indicators  map[string]Indicators
	runs        map[string]notebook.RunState
	alerts      []error
	dbConnected bool
}

func newRecordingView() *recordingView {
	return &recordingView{
		indicators: make(map[string]Indicators),
		runs:       make(map[string]notebook.RunState),
	}
}

func (v *recordingView) Indicators(id string, ind Indicators) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.indicators[id] = ind
}

func (v *recordingView) RunState(st notebook.RunState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.runs[st.CellID] = st
}

func (v *recordingView) Connection(dbConnected bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dbConnected = dbConnected
}

func (v *recordingView) Alert(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, err)
}

func (v *recordingView) indicator(id string) Indicators {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.indicators[id]
}

func (v *recordingView) runState(id string) (notebook.RunState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rs, ok := v.runs[id]
	return rs, ok
}

func (v *recordingView) alertCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.alerts)
}

var errInjected = errors.New("injected failure")

// scriptedCommands records every call and fails the ones it is told to.
type scriptedCommands struct {
	mu         sync.Mutex
	calls      []string
	failNext   map[string]error // operation name -> error for its next call
	updateGate chan struct{}
	nextID     int
}

func newScriptedCommands() *scriptedCommands {
	return &scriptedCommands{failNext: make(map[string]error)}
}

func (c *scriptedCommands) record(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	c.calls = append(c.calls, call)
	op := call
	for i, r := range call {
		if r == ' ' {
			op = call[:i]
			break
		}
	}
	if err, ok := c.failNext[op]; ok {
		delete(c.failNext, op)
		return err
	}
	return nil
}

func (c *scriptedCommands) fail(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = errInjected
}

func (c *scriptedCommands) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *scriptedCommands) CreateCell(ctx context.Context, req command.CreateRequest) (notebook.Cell, error) {
	after := "<end>"
	if req.AfterID != nil {
		after = *req.AfterID
	}
	if err := c.record("create %s after=%s", req.Kind, after); err != nil {
		return notebook.Cell{}, err
	}
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("new%d", c.nextID)
	c.mu.Unlock()
	return notebook.Cell{ID: id, Kind: req.Kind}, nil
}

func (c *scriptedCommands) UpdateCell(ctx context.Context, id string, req command.UpdateRequest) (notebook.Cell, error) {
	c.mu.Lock()
	gate := c.updateGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := c.record("update %s %s", id, *req.Code); err != nil {
		return notebook.Cell{}, err
	}
	return notebook.Cell{ID: id, Code: *req.Code}, nil
}

func (c *scriptedCommands) DeleteCell(ctx context.Context, id string) (*command.DeleteResult, error) {
	if err := c.record("delete %s", id); err != nil {
		return nil, err
	}
	return &command.DeleteResult{Status: "deleted", ID: id}, nil
}

func (c *scriptedCommands) RunCell(ctx context.Context, id string) (*command.RunResult, error) {
	if err := c.record("run %s", id); err != nil {
		return nil, err
	}
	return &command.RunResult{}, nil
}

func (c *scriptedCommands) RunAll(ctx context.Context) (*command.RunResult, error) {
	if err := c.record("run-all"); err != nil {
		return nil, err
	}
	return &command.RunResult{}, nil
}

func (c *scriptedCommands) Reset(ctx context.Context) error {
	return c.record("reset")
}

func (c *scriptedCommands) Save(ctx context.Context) error {
	return c.record("save")
}

func (c *scriptedCommands) ConfigureDatabase(ctx context.Context, connString string) error {
	return c.record("db %s", connString)
}

// memDrafts is an in-memory DraftStore.
type memDrafts struct {
	mu     sync.Mutex
	drafts map[string]string
}

func newMemDrafts(initial map[string]string) *memDrafts {
	d := &memDrafts{drafts: make(map[string]string)}
	for id, code := range initial {
		d.drafts[id] = code
	}
	return d
}

func (d *memDrafts) Put(ctx context.Context, id, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[id] = code
	return nil
}

func (d *memDrafts) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, id)
	return nil
}

func (d *memDrafts) Load(ctx context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.drafts))
	for id, code := range d.drafts {
		out[id] = code
	}
	return out, nil
}

func (d *memDrafts) get(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, ok := d.drafts[id]
	return code, ok
}

// harness runs a session against in-memory collaborators and a manual clock.
type harness struct {
	t      *testing.T
	clock  *manualClock
	editor *memEditor
	view   *recordingView
	cmds   *scriptedCommands
	sess   *Session
}

func newHarness(t *testing.T, drafts DraftStore, cells ...notebook.Cell) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  &manualClock{},
		editor: newMemEditor(),
		view:   newRecordingView(),
		cmds:   newScriptedCommands(),
	}
	config := &Config{
		DebounceInterval: DefaultDebounceInterval,
		BlurGrace:        DefaultBlurGrace,
		Scheduler:        h.clock,
		Drafts:           drafts,
		Logger:           log.New(io.Discard, "", 0),
	}
	sess, err := NewWithConfig(h.editor, h.view, h.cmds, config)
	require.NoError(t, err)
	h.sess = sess

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	sess.OnInit(notebook.Snapshot{Cells: cells, States: map[string]notebook.RunState{}})
	h.settle()
	return h
}

// settle waits until every event posted so far has been handled.
func (h *harness) settle() Snapshot {
	return h.sess.Snapshot()
}

func (h *harness) state(id string) State {
	return h.settle().States[id]
}

// edit types code into a buffer and reports the change.
func (h *harness) edit(id, code string) {
	h.editor.typeCode(id, code)
	h.sess.Change(id)
	h.settle()
}

// advance moves the clock after pending events are handled, then waits for
// the timers' callbacks.
func (h *harness) advance(d time.Duration) {
	h.settle()
	h.clock.Advance(d)
	h.settle()
}

func (h *harness) waitCalls(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.cmds.Calls()) >= n }, 5*time.Second, 5*time.Millisecond)
	return h.cmds.Calls()
}

func (h *harness) waitState(id string, cond func(State) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.state(id)) }, 5*time.Second, 5*time.Millisecond)
}

func script(id, code string) notebook.Cell {
	return notebook.Cell{ID: id, Kind: notebook.KindScript, Code: code}
}
