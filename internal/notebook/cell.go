package notebook

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies how a cell's code is executed.
type Kind string

const (
	// KindScript cells hold Python source.
	KindScript Kind = "python"
	// KindQuery cells hold SQL run against the configured database.
	KindQuery Kind = "sql"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindScript || k == KindQuery
}

// Extension returns the file extension used when a cell of this kind is
// written to disk.
func (k Kind) Extension() string {
	if k == KindQuery {
		return ".sql"
	}
	return ".py"
}

// ParseKind maps a wire or user supplied kind name onto a Kind.
// "script" and "query" are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "python", "script", "py":
		return KindScript, nil
	case "sql", "query":
		return KindQuery, nil
	default:
		return "", fmt.Errorf("unknown cell kind %q", s)
	}
}

// Cell is the server's unit of code. Order is implied by the cell's index in
// the list it was received in.
type Cell struct {
	ID   string `json:"id"`
	Kind Kind   `json:"type"`
	Code string `json:"code"`
	As   string `json:"as,omitempty"` // only meaningful for KindQuery
}

// Validate checks if the Cell has valid field values.
func (c *Cell) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("invalid kind %q", c.Kind)
	}
	return nil
}

// Binding returns the named binding of a query cell, or "" for script cells.
func (c *Cell) Binding() string {
	if c.Kind != KindQuery {
		return ""
	}
	return c.As
}

// NewID generates a short random cell id in the server's format (8 hex chars).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Find returns the cell with the given id and its index, or -1 if absent.
func Find(cells []Cell, id string) (Cell, int) {
	for i, c := range cells {
		if c.ID == id {
			return c, i
		}
	}
	return Cell{}, -1
}

// IDs returns the ids of cells in order.
func IDs(cells []Cell) []string {
	ids := make([]string, len(cells))
	for i, c := range cells {
		ids[i] = c.ID
	}
	return ids
}

// Clone returns a copy of cells that shares no backing array with the input.
func Clone(cells []Cell) []Cell {
	if cells == nil {
		return nil
	}
	out := make([]Cell, len(cells))
	copy(out, cells)
	return out
}
