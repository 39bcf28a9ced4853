package cellsync

import "github.com/reactive-notebook/cellsync/internal/notebook"

// Change classifies the difference between two cell lists.
type Change int

const (
	// ChangeNone: same ids in the same order with the same code.
	ChangeNone Change = iota
	// ChangeContent: same ids in the same order, some code differs.
	ChangeContent
	// ChangeStructural: membership or order differs.
	ChangeStructural
)

func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeContent:
		return "content"
	case ChangeStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// IsStructural reports whether next differs from old in length or in the id
// at any index.
func IsStructural(old, next []notebook.Cell) bool {
	if len(old) != len(next) {
		return true
	}
	for i := range old {
		if old[i].ID != next[i].ID {
			return true
		}
	}
	return false
}

// Classify compares old and next.
func Classify(old, next []notebook.Cell) Change {
	if IsStructural(old, next) {
		return ChangeStructural
	}
	if len(Diff(old, next)) > 0 {
		return ChangeContent
	}
	return ChangeNone
}

// Diff returns the ids of cells in next whose code differs from the cell with
// the same id in old. Cells absent from old are not reported.
func Diff(old, next []notebook.Cell) []string {
	prev := make(map[string]string, len(old))
	for _, c := range old {
		prev[c.ID] = c.Code
	}
	var changed []string
	for _, c := range next {
		if code, ok := prev[c.ID]; ok && code != c.Code {
			changed = append(changed, c.ID)
		}
	}
	return changed
}
