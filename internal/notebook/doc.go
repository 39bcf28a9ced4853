// Package notebook defines the cell data model shared by the sync core, the
// command client and the push channel.
//
// # Overview
//
// A notebook is an ordered list of cells. The server owns the list; clients
// hold a cached copy that may be stale at any moment. A cell's position is
// its index in the authoritative list and is never stored on the cell.
//
// # Cells
//
// Cells travel as flat JSON objects:
//
//	{
//	  "id": "3f9a1c2e",
//	  "type": "sql",
//	  "code": "SELECT * FROM users",
//	  "as": "users_df"
//	}
//
// The "as" field names the variable a query cell binds its result to and is
// ignored for script cells.
//
// # Run State
//
// Execution status is produced by the server's execution engine and is only
// ever read here. A blocked cell carries the id of the cell that blocked it:
//
//	{
//	  "cell_id": "3f9a1c2e",
//	  "status": "blocked",
//	  "blocked_by": "a01b22c3"
//	}
//
// # Notebook Files
//
// Notebooks are persisted as plain source files with one marker line per cell:
//
//	# %% [id: 3f9a1c2e, type: sql, as: users_df]
//	SELECT * FROM users
//
//	# %% [id: a01b22c3]
//	print(len(users_df))
//
// Parse and Serialize convert between that format and []Cell. The type field
// is omitted for script cells and the as field is omitted when empty.
package notebook
