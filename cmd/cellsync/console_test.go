package main

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/reactive-notebook/cellsync/internal/cellsync"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

type recordingControls struct {
	calls []string
	snap  cellsync.Snapshot
}

func (r *recordingControls) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingControls) Focus(id string)                 { r.record("focus %s", id) }
func (r *recordingControls) Blur(id string)                  { r.record("blur %s", id) }
func (r *recordingControls) Save(id string)                  { r.record("save %s", id) }
func (r *recordingControls) SyncPending(id string)           { r.record("sync %s", id) }
func (r *recordingControls) RunCell(id string)               { r.record("run %s", id) }
func (r *recordingControls) RunAll()                         { r.record("run-all") }
func (r *recordingControls) RunFocusedAndAdvance()           { r.record("next") }
func (r *recordingControls) NewCellBelow(kind notebook.Kind) { r.record("new %s", kind) }
func (r *recordingControls) DeleteCell(id string)            { r.record("delete %s", id) }
func (r *recordingControls) SetAutoRun(on bool)              { r.record("auto %t", on) }
func (r *recordingControls) Reset()                          { r.record("reset") }
func (r *recordingControls) SaveNotebook()                   { r.record("save-notebook") }
func (r *recordingControls) ConfigureDatabase(conn string)   { r.record("db %s", conn) }
func (r *recordingControls) Snapshot() cellsync.Snapshot     { return r.snap }

func wantContains(t *testing.T, text string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(text, sub) {
			t.Errorf("output missing %q:\n%s", sub, text)
		}
	}
}

func TestConsole_Dispatch(t *testing.T) {
	ctl := &recordingControls{}
	var out bytes.Buffer
	c := &console{ctl: ctl, out: &out}

	tests := []struct {
		line string
		want string
	}{
		{"focus a", "focus a"},
		{"", ""},
		{"run a", "run a"},
		{"next", "next"},
		{"all", "run-all"},
		{"save a", "save a"},
		{"save", "save-notebook"},
		{"sync b", "sync b"},
		{"new", "new python"},
		{"new sql", "new sql"},
		{"rm c", "delete c"},
		{"blur a", "blur a"},
		{"auto on", "auto true"},
		{"auto off", "auto false"},
		{"reset", "reset"},
		{"db postgresql://localhost/x", "db postgresql://localhost/x"},
	}

	var input, want []string
	for _, tt := range tests {
		input = append(input, tt.line)
		if tt.want != "" {
			want = append(want, tt.want)
		}
	}

	if c.run(strings.NewReader(strings.Join(input, "\n"))) {
		t.Error("run() reported quit without a quit command")
	}
	if !slices.Equal(ctl.calls, want) {
		t.Errorf("calls = %v, want %v", ctl.calls, want)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestConsole_UsageErrors(t *testing.T) {
	ctl := &recordingControls{}
	var out bytes.Buffer
	c := &console{ctl: ctl, out: &out}

	for _, line := range []string{"run", "sync a b", "auto maybe", "new rust", "db", "launch"} {
		if c.exec(line) {
			t.Errorf("exec(%q) reported quit", line)
		}
	}
	if len(ctl.calls) != 0 {
		t.Errorf("calls = %v, want none", ctl.calls)
	}
	wantContains(t, out.String(),
		"usage: run <id>",
		"usage: auto on|off",
		`unknown cell kind "rust"`,
		`unknown command "launch"`,
	)
}

func TestConsole_Quit(t *testing.T) {
	ctl := &recordingControls{}
	c := &console{ctl: ctl, out: &bytes.Buffer{}}
	if !c.run(strings.NewReader("run a\nquit\nrun b\n")) {
		t.Error("run() = false, want true after quit")
	}
	if !slices.Equal(ctl.calls, []string{"run a"}) {
		t.Errorf("calls = %v, want [run a]", ctl.calls)
	}
}

func TestConsole_Status(t *testing.T) {
	ctl := &recordingControls{snap: cellsync.Snapshot{
		Cells: []notebook.Cell{
			{ID: "a", Kind: notebook.KindScript},
			{ID: "b", Kind: notebook.KindQuery},
		},
		States: map[string]cellsync.State{
			"a": {Editing: true, Unsaved: true},
			"b": {Stale: true, HasExecuted: true},
		},
		Runs: map[string]notebook.RunState{
			"b": {CellID: "b", Status: notebook.StatusSuccess},
		},
		Focused: "a",
		AutoRun: true,
	}}
	var out bytes.Buffer
	c := &console{ctl: ctl, out: &out}
	c.exec("status")

	wantContains(t, out.String(),
		"2 cells, auto-run on, database disconnected",
		"editing unsaved",
		"stale",
	)
}

func TestStatusView(t *testing.T) {
	var out bytes.Buffer
	v := newStatusView(&out)

	v.Indicators("a", cellsync.Indicators{})
	v.Indicators("a", cellsync.Indicators{Editing: true, Pending: true})
	msg := "boom"
	v.RunState(notebook.RunState{CellID: "a", Status: notebook.StatusError, Error: &msg})
	blocker := "a"
	v.RunState(notebook.RunState{CellID: "b", Status: notebook.StatusBlocked, BlockedBy: &blocker})
	v.Connection(true)
	cause := errors.New("connection refused")
	v.Alert(fmt.Errorf("failed to save cell a: %w", cause))

	wantContains(t, out.String(),
		"a clean",
		"a editing pending",
		"sync a",
		"a error: boom",
		"b blocked (blocked by a)",
		"Database connected",
		"failed to save cell a: connection refused",
	)
}
