package notebook

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "", want: KindScript},
		{in: "python", want: KindScript},
		{in: "Script", want: KindScript},
		{in: "sql", want: KindQuery},
		{in: "query", want: KindQuery},
		{in: "markdown", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCellValidate(t *testing.T) {
	tests := []struct {
		name    string
		cell    Cell
		wantErr bool
	}{
		{name: "valid", cell: Cell{ID: "a", Kind: KindScript}},
		{name: "missing id", cell: Cell{Kind: KindScript}, wantErr: true},
		{name: "unknown kind", cell: Cell{ID: "a", Kind: "lisp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cell.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCellBinding(t *testing.T) {
	q := Cell{ID: "a", Kind: KindQuery, As: "df"}
	s := Cell{ID: "b", Kind: KindScript, As: "ignored"}
	if got := q.Binding(); got != "df" {
		t.Errorf("query Binding() = %q, want %q", got, "df")
	}
	if got := s.Binding(); got != "" {
		t.Errorf("script Binding() = %q, want empty", got)
	}
}

func TestFind(t *testing.T) {
	cells := []Cell{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	c, i := Find(cells, "b")
	if i != 1 || c.ID != "b" {
		t.Errorf("Find(b) = (%q, %d), want (b, 1)", c.ID, i)
	}
	if _, i = Find(cells, "z"); i != -1 {
		t.Errorf("Find(z) index = %d, want -1", i)
	}
	if got := IDs(cells); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("IDs() = %v", got)
	}
}

func TestRunStateWireFormat(t *testing.T) {
	raw := `{"cell_id":"c1","status":"blocked","output":null,"output_type":null,
		"stdout":null,"error":"upstream failed","error_traceback":null,"blocked_by":"c0"}`

	var st RunState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if st.Status != StatusBlocked {
		t.Errorf("Status = %q, want %q", st.Status, StatusBlocked)
	}
	if st.Status.IsTerminal() {
		t.Error("blocked should not be terminal")
	}

	blocker, ok := st.Blocker()
	if !ok || blocker != "c0" {
		t.Errorf("Blocker() = (%q, %v), want (c0, true)", blocker, ok)
	}
	if st.Error == nil || *st.Error != "upstream failed" {
		t.Errorf("Error = %v, want upstream failed", st.Error)
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
		valid    bool
	}{
		{StatusSuccess, true, true},
		{StatusError, true, true},
		{StatusRunning, false, true},
		{StatusIdle, false, true},
		{StatusBlocked, false, true},
		{RunStatus("queued"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}
