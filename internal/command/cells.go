package command

import (
	"context"
	"net/http"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// CreateRequest describes a new cell.
//
// AfterID positions the cell: nil appends, a pointer to "" inserts at the
// beginning, anything else inserts after that cell (or appends when the
// server does not know the id).
type CreateRequest struct {
	Kind    notebook.Kind `json:"type"`
	Code    string        `json:"code"`
	As      *string       `json:"as_var,omitempty"`
	AfterID *string       `json:"after_id"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Code *string        `json:"code,omitempty"`
	Kind *notebook.Kind `json:"type,omitempty"`
	As   *string        `json:"as_var,omitempty"`
}

// CellList is the server's full view: cells in order plus run states.
type CellList struct {
	Cells  []notebook.Cell              `json:"cells"`
	States map[string]notebook.RunState `json:"states"`
}

// CellDetail is a single cell with its run state, if it has one.
type CellDetail struct {
	Cell  notebook.Cell      `json:"cell"`
	State *notebook.RunState `json:"state"`
}

// DeleteResult reports the variables the server dropped with the cell.
type DeleteResult struct {
	Status           string   `json:"status"`
	ID               string   `json:"id"`
	RemovedVariables []string `json:"removed_variables"`
}

// RunResult lists the run states of every cell executed by a run request,
// including downstream dependents.
type RunResult struct {
	Results []notebook.RunState `json:"results"`
}

// StatusResult is the generic {"status": "..."} acknowledgement.
type StatusResult struct {
	Status string `json:"status"`
}

// String is a helper for building optional request fields.
func String(s string) *string {
	return &s
}

// ListCells returns every cell and its run state.
func (c *Client) ListCells(ctx context.Context) (*CellList, error) {
	var out CellList
	if err := c.do(ctx, http.MethodGet, "/cells", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCell returns one cell and its run state.
func (c *Client) GetCell(ctx context.Context, id string) (*CellDetail, error) {
	var out CellDetail
	if err := c.do(ctx, http.MethodGet, cellPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCell creates a cell and returns it as stored by the server.
func (c *Client) CreateCell(ctx context.Context, req CreateRequest) (notebook.Cell, error) {
	if req.Kind == "" {
		req.Kind = notebook.KindScript
	}
	var out notebook.Cell
	if err := c.do(ctx, http.MethodPost, "/cells", req, &out); err != nil {
		return notebook.Cell{}, err
	}
	return out, nil
}

// UpdateCell applies a partial update to a cell.
func (c *Client) UpdateCell(ctx context.Context, id string, req UpdateRequest) (notebook.Cell, error) {
	var out notebook.Cell
	if err := c.do(ctx, http.MethodPut, cellPath(id), req, &out); err != nil {
		return notebook.Cell{}, err
	}
	return out, nil
}

// DeleteCell removes a cell.
func (c *Client) DeleteCell(ctx context.Context, id string) (*DeleteResult, error) {
	var out DeleteResult
	if err := c.do(ctx, http.MethodDelete, cellPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunCell runs a cell and its dependents. Status updates also arrive over the
// push channel while the request is in flight.
func (c *Client) RunCell(ctx context.Context, id string) (*RunResult, error) {
	var out RunResult
	if err := c.do(ctx, http.MethodPost, cellPath(id)+"/run", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunAll runs every cell in dependency order.
func (c *Client) RunAll(ctx context.Context) (*RunResult, error) {
	var out RunResult
	if err := c.do(ctx, http.MethodPost, "/cells/run-all", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset clears all run state on the server.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cells/reset", nil, nil)
}

// Save persists the notebook to durable storage.
func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cells/save", nil, nil)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out StatusResult
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}
