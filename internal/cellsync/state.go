package cellsync

// EventKind enumerates the inputs of a cell's sync state machine.
type EventKind int

const (
	// EventFocus: the cell's buffer gained focus.
	EventFocus EventKind = iota
	// EventBlur: the buffer lost focus; editing ends after the grace period.
	EventBlur
	// EventBlurElapsed: the grace period after a blur ran out.
	EventBlurElapsed
	// EventChange: the buffer changed. Buffer carries the new value.
	EventChange
	// EventDebounceElapsed: the quiet period after the last change ran out.
	EventDebounceElapsed
	// EventSave: the user asked to persist the buffer now.
	EventSave
	// EventSync: the user asked to apply the withheld server version.
	EventSync
	// EventServerPush: the server sent new code for the cell. Code carries
	// it and Buffer the current buffer value.
	EventServerPush
	// EventFlushSucceeded: the server acknowledged Code. Buffer carries the
	// buffer value at acknowledgement time.
	EventFlushSucceeded
	// EventFlushFailed: an update request was rejected or never completed.
	EventFlushFailed
	// EventRunRequested: a run was issued for Code.
	EventRunRequested
	// EventRunFailed: the run request itself failed.
	EventRunFailed
	// EventRunFinished: a terminal run status arrived. Buffer carries the
	// buffer value at that moment.
	EventRunFinished
	// EventRunsCleared: the notebook's run state was reset.
	EventRunsCleared
	// EventRunSettled: the run ended without executing the cell (blocked or
	// idle). Buffer carries the current buffer.
	EventRunSettled
)

var eventNames = [...]string{
	"focus", "blur", "blur_elapsed", "change", "debounce_elapsed", "save", "sync",
	"server_push", "flush_succeeded", "flush_failed", "run_requested", "run_failed",
	"run_finished", "runs_cleared", "run_settled",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one input to State.Apply.
type Event struct {
	Kind   EventKind
	Code   string
	Buffer string
}

// EffectKind enumerates what the session must do after an Apply.
type EffectKind int

const (
	// EffectScheduleFlush restarts the cell's debounce timer.
	EffectScheduleFlush EffectKind = iota
	// EffectCancelFlush cancels the cell's debounce timer.
	EffectCancelFlush
	// EffectFlush sends the buffer, read at flush time, to the server.
	EffectFlush
	// EffectScheduleBlur starts the blur grace timer.
	EffectScheduleBlur
	// EffectSetBuffer replaces the buffer with Code.
	EffectSetBuffer
	// EffectIndicators means Indicators() changed and should be shown.
	EffectIndicators
)

// Effect is one action requested by State.Apply.
type Effect struct {
	Kind EffectKind
	Code string
}

// Indicators is the user-visible summary of a cell's sync state.
type Indicators struct {
	Editing bool // buffer focused or inside the blur grace period
	Pending bool // a server version is withheld until the user syncs
	Unsaved bool // local edits not yet acknowledged by the server
	Stale   bool // displayed output was produced by different code
}

// State is one cell's sync state. The zero value is not usable; use NewState.
//
// The flags are independent. Editing gates what a server push may do to the
// buffer; PendingCode holds at most one withheld server version; Unsaved
// tracks edits the server has not acknowledged; Stale compares the buffer
// with the code that produced the last output.
type State struct {
	Editing     bool
	PendingCode string
	HasPending  bool
	Unsaved     bool

	LastExecuted string
	HasExecuted  bool
	Stale        bool

	focused    bool
	serverCode string

	// restored on EventRunFailed
	prevExecuted    string
	prevHasExecuted bool
	running         bool
}

// NewState returns the default state of a cell whose server code is code.
func NewState(code string) *State {
	return &State{serverCode: code}
}

// ServerCode returns the last code known to be on the server.
func (s *State) ServerCode() string {
	return s.serverCode
}

// Indicators returns the user-visible flags.
func (s *State) Indicators() Indicators {
	return Indicators{
		Editing: s.Editing,
		Pending: s.HasPending,
		Unsaved: s.Unsaved,
		Stale:   s.Stale,
	}
}

// MarkExecuted records code as the producer of the current output without
// touching staleness. Used when a snapshot arrives with a finished run.
func (s *State) MarkExecuted(code string) {
	s.LastExecuted = code
	s.HasExecuted = true
}

// Apply feeds one event into the state machine and returns the effects the
// caller must carry out, in order.
func (s *State) Apply(ev Event) []Effect {
	before := s.Indicators()
	var effects []Effect

	switch ev.Kind {
	case EventFocus:
		s.focused = true
		s.Editing = true

	case EventBlur:
		s.focused = false
		effects = append(effects, Effect{Kind: EffectScheduleBlur})

	case EventBlurElapsed:
		// a later focus supersedes the blur; pending code stays for the user
		if !s.focused {
			s.Editing = false
		}

	case EventChange:
		s.Unsaved = true
		s.recomputeStale(ev.Buffer)
		effects = append(effects, Effect{Kind: EffectScheduleFlush})

	case EventDebounceElapsed:
		effects = append(effects, Effect{Kind: EffectFlush})

	case EventSave:
		effects = append(effects, Effect{Kind: EffectCancelFlush}, Effect{Kind: EffectFlush})

	case EventSync:
		if !s.HasPending {
			break
		}
		code := s.PendingCode
		s.PendingCode, s.HasPending = "", false
		s.serverCode = code
		s.Unsaved = false
		s.recomputeStale(code)
		effects = append(effects, Effect{Kind: EffectCancelFlush}, Effect{Kind: EffectSetBuffer, Code: code})

	case EventServerPush:
		s.serverCode = ev.Code
		switch {
		case ev.Code == ev.Buffer:
			// nothing to defer or apply
			s.PendingCode, s.HasPending = "", false
		case s.Editing:
			s.PendingCode, s.HasPending = ev.Code, true
		default:
			s.PendingCode, s.HasPending = "", false
			s.Unsaved = false
			s.recomputeStale(ev.Code)
			effects = append(effects, Effect{Kind: EffectCancelFlush}, Effect{Kind: EffectSetBuffer, Code: ev.Code})
		}

	case EventFlushSucceeded:
		s.serverCode = ev.Code
		s.Unsaved = ev.Buffer != ev.Code
		s.PendingCode, s.HasPending = "", false

	case EventFlushFailed:
		s.Unsaved = true

	case EventRunRequested:
		s.prevExecuted, s.prevHasExecuted = s.LastExecuted, s.HasExecuted
		s.LastExecuted, s.HasExecuted = ev.Code, true
		s.Stale = false
		s.running = true

	case EventRunFailed, EventRunSettled:
		// the submitted code produced no output
		if s.running {
			s.LastExecuted, s.HasExecuted = s.prevExecuted, s.prevHasExecuted
			s.running = false
		}
		s.recomputeStale(ev.Buffer)

	case EventRunFinished:
		// a locally issued run already recorded the code it submitted
		if !s.running {
			s.LastExecuted, s.HasExecuted = ev.Buffer, true
		}
		s.running = false
		s.recomputeStale(ev.Buffer)

	case EventRunsCleared:
		s.LastExecuted, s.HasExecuted = "", false
		s.running = false
		s.Stale = false
	}

	if s.Indicators() != before {
		effects = append(effects, Effect{Kind: EffectIndicators})
	}
	return effects
}

func (s *State) recomputeStale(buffer string) {
	s.Stale = s.HasExecuted && buffer != s.LastExecuted
}
