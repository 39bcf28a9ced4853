package command

import (
	"context"
	"net/http"
)

// DatabaseStatus reports whether the server has a working data connection.
type DatabaseStatus struct {
	Connected bool `json:"connected"`
}

// ConfigureDatabase points the server's query cells at connString.
func (c *Client) ConfigureDatabase(ctx context.Context, connString string) error {
	body := map[string]string{"connection_string": connString}
	return c.do(ctx, http.MethodPost, "/config/db", body, nil)
}

// DatabaseStatus returns the server's data connection status.
func (c *Client) DatabaseStatus(ctx context.Context) (DatabaseStatus, error) {
	var out DatabaseStatus
	err := c.do(ctx, http.MethodGet, "/config/db", nil, &out)
	return out, err
}

// DisconnectDatabase drops the server's data connection.
func (c *Client) DisconnectDatabase(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/config/db", nil, nil)
}
