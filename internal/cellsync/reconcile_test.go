package cellsync

import (
	"slices"
	"testing"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

func cells(pairs ...string) []notebook.Cell {
	var out []notebook.Cell
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, script(pairs[i], pairs[i+1]))
	}
	return out
}

func TestClassify(t *testing.T) {
	abc := cells("a", "1", "b", "2", "c", "3")

	tests := []struct {
		name      string
		old, next []notebook.Cell
		want      Change
		changed   []string
	}{
		{name: "removed", old: abc, next: cells("a", "1", "c", "3"), want: ChangeStructural},
		{name: "code only", old: abc, next: cells("a", "1", "b", "2'", "c", "3"), want: ChangeContent, changed: []string{"b"}},
		{name: "reordered", old: abc, next: cells("a", "1", "c", "3", "b", "2"), want: ChangeStructural},
		{name: "inserted", old: abc, next: cells("a", "1", "x", "", "b", "2", "c", "3"), want: ChangeStructural},
		{name: "replaced id", old: abc, next: cells("a", "1", "z", "2", "c", "3"), want: ChangeStructural},
		{name: "identical", old: abc, next: cells("a", "1", "b", "2", "c", "3"), want: ChangeNone},
		{name: "from empty", old: nil, next: abc, want: ChangeStructural},
		{name: "both empty", old: nil, next: []notebook.Cell{}, want: ChangeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.old, tt.next); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
			if tt.want != ChangeContent {
				return
			}
			if got := Diff(tt.old, tt.next); !slices.Equal(got, tt.changed) {
				t.Errorf("Diff() = %v, want %v", got, tt.changed)
			}
		})
	}
}

func TestClassify_BindingChangeIsNotStructural(t *testing.T) {
	old := []notebook.Cell{{ID: "q", Kind: notebook.KindQuery, Code: "SELECT 1"}}
	next := []notebook.Cell{{ID: "q", Kind: notebook.KindQuery, Code: "SELECT 1", As: "df"}}

	if IsStructural(old, next) {
		t.Error("binding change reported as structural")
	}
	if got := Classify(old, next); got != ChangeNone {
		t.Errorf("Classify() = %v, want %v", got, ChangeNone)
	}
}
