// Package cellsync keeps a notebook's editable cells consistent between a
// local editor, the server's push channel and the REST command API.
//
// A Session owns one State per cell and runs every mutation on a single
// goroutine. Inputs arrive as method calls (Focus, Change, RunCell, ...) or as
// transport callbacks (OnInit, OnStatus, OnCellsUpdated); both are posted into
// the session loop, so callers never block on the network.
//
// Three rules govern a cell's buffer:
//
//   - While a cell is being edited, server pushes for it are withheld as a
//     pending update. Only SyncPending applies them.
//   - Local edits are flushed after a quiet period (DebounceInterval). The
//     buffer is read when the flush fires, so a burst of edits is one request.
//   - A run always flushes the buffer first, then asks the server to execute.
//
// A change in the membership or order of cells (a structural change) tears
// down every buffer and state and rebuilds them from the new list. Content-only
// changes are applied per cell.
//
// Example usage:
//
//	sess, err := cellsync.New(editor, view, client)
//	if err != nil {
//		return err
//	}
//	go sess.Run(ctx)
//
//	transport.New(&transport.Config{URL: wsURL}, sess)
package cellsync
