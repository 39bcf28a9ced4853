package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/reactive-notebook/cellsync/internal/cellsync"
	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// syncWriter serializes writes from the session loop and the console.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// statusView prints session updates as lines of text.
type statusView struct {
	out io.Writer
}

func newStatusView(out io.Writer) *statusView {
	return &statusView{out: out}
}

func (v *statusView) printf(format string, args ...any) {
	fmt.Fprintf(v.out, format, args...)
}

func badges(ind cellsync.Indicators) string {
	var parts []string
	if ind.Editing {
		parts = append(parts, renderAccent("editing"))
	}
	if ind.Unsaved {
		parts = append(parts, renderWarn("unsaved"))
	}
	if ind.Pending {
		parts = append(parts, renderWarn("pending"))
	}
	if ind.Stale {
		parts = append(parts, renderMuted("stale"))
	}
	if len(parts) == 0 {
		return renderPass("clean")
	}
	return strings.Join(parts, " ")
}

func (v *statusView) Indicators(id string, ind cellsync.Indicators) {
	v.printf("  %s %s\n", id, badges(ind))
	if ind.Pending {
		v.printf("    %s server changed %s while you were editing; type 'sync %s' to take it\n", renderWarn("⚠"), id, id)
	}
}

func (v *statusView) RunState(st notebook.RunState) {
	line := fmt.Sprintf("%s %s %s", statusIcon(st.Status), st.CellID, st.Status)
	switch {
	case st.Error != nil:
		line += ": " + renderFail(*st.Error)
	case st.Output != nil && st.Status == notebook.StatusSuccess:
		out, _, _ := strings.Cut(strings.TrimSpace(*st.Output), "\n")
		if out != "" {
			line += " " + renderMuted(out)
		}
	}
	if blocker, ok := st.Blocker(); ok {
		line += " (blocked by " + blocker + ")"
	}
	v.printf("%s\n", line)
}

func (v *statusView) Connection(dbConnected bool) {
	if dbConnected {
		v.printf("%s Database connected\n", renderPass("✓"))
		return
	}
	v.printf("%s No database connection\n", renderMuted("○"))
}

func (v *statusView) Alert(err error) {
	v.printf("%s %s\n", renderFail("✗"), command.Message(err))
}

// printSnapshot renders the session's view of every cell.
func printSnapshot(w io.Writer, snap cellsync.Snapshot) {
	auto := "off"
	if snap.AutoRun {
		auto = "on"
	}
	db := "disconnected"
	if snap.DBConnected {
		db = "connected"
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d cells, auto-run %s, database %s", len(snap.Cells), auto, db)))
	for i, c := range snap.Cells {
		status := notebook.StatusIdle
		if rs, ok := snap.Runs[c.ID]; ok {
			status = rs.Status
		}
		marker := " "
		if c.ID == snap.Focused {
			marker = renderAccent(">")
		}
		st := snap.States[c.ID]
		fmt.Fprintf(w, "%s%s %-3d %-10s %-7s %s\n", marker, statusIcon(status), i+1, c.ID, c.Kind, badges(st.Indicators()))
	}
}
