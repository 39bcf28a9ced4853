package notebook

// RunStatus is the execution status reported by the server for one cell.
type RunStatus string

const (
	StatusIdle    RunStatus = "idle"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusError   RunStatus = "error"
	StatusBlocked RunStatus = "blocked"
)

// IsTerminal reports whether the status ends a run (success or error).
func (s RunStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusSuccess, StatusError, StatusBlocked:
		return true
	}
	return false
}

// ResultType tags the content type of a run's result payload.
type ResultType string

const (
	ResultText ResultType = "text"
	ResultHTML ResultType = "html"
)

// RunState is the execution engine's view of a cell. The sync core observes
// it read-only.
type RunState struct {
	CellID     string     `json:"cell_id"`
	Status     RunStatus  `json:"status"`
	Output     *string    `json:"output,omitempty"`
	OutputType ResultType `json:"output_type,omitempty"`
	Stdout     *string    `json:"stdout,omitempty"`
	Error      *string    `json:"error,omitempty"`
	Traceback  *string    `json:"error_traceback,omitempty"`
	BlockedBy  *string    `json:"blocked_by,omitempty"` // only set when Status is blocked
}

// Blocker returns the id of the cell blocking this one, if any.
func (r *RunState) Blocker() (string, bool) {
	if r.Status != StatusBlocked || r.BlockedBy == nil {
		return "", false
	}
	return *r.BlockedBy, true
}

// Snapshot is the full state a client receives when it first connects.
type Snapshot struct {
	Cells       []Cell              `json:"cells"`
	States      map[string]RunState `json:"states"`
	DBConnected bool                `json:"db_connected"`
}
