package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// ErrUnknownType is returned by Dispatch for a well-formed message with an
// unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

// Dispatch decodes one frame and routes it to h. It returns an error for
// malformed frames; the caller logs and drops them.
func Dispatch(frame []byte, h Handler) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}

	switch env.Type {
	case MessageTypeInit:
		var snap notebook.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return env.Type, fmt.Errorf("failed to parse init payload: %w", err)
		}
		if snap.States == nil {
			snap.States = make(map[string]notebook.RunState)
		}
		h.OnInit(snap)

	case MessageTypeStatus:
		var st notebook.RunState
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return env.Type, fmt.Errorf("failed to parse status payload: %w", err)
		}
		if st.CellID == "" {
			return env.Type, fmt.Errorf("status payload has no cell_id")
		}
		h.OnStatus(st)

	case MessageTypeCellsUpdated:
		var cells []notebook.Cell
		if err := json.Unmarshal(env.Data, &cells); err != nil {
			return env.Type, fmt.Errorf("failed to parse cells_updated payload: %w", err)
		}
		if cells == nil {
			cells = []notebook.Cell{}
		}
		h.OnCellsUpdated(cells)

	case MessageTypePong:
		// heartbeat acknowledged; nothing to do

	default:
		return env.Type, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env.Type, nil
}
