// Package command wraps the notebook server's request/response endpoints.
//
// Every call is user initiated (save, run, create, delete), so failures are
// returned to the caller as-is and never retried here. There is no request
// timeout beyond what the caller's context and the HTTP transport impose.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds client configuration.
type Config struct {
	// BaseURL of the notebook server, e.g. http://localhost:8000
	BaseURL string

	// HTTPClient used for requests (default: a fresh http.Client)
	HTTPClient *http.Client

	// Logger for request failures (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8000",
		HTTPClient: &http.Client{},
		Logger:     log.New(os.Stderr, "[command] ", log.LstdFlags),
	}
}

// Client issues commands against the notebook server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// New creates a client for baseURL with default settings.
func New(baseURL string) (*Client, error) {
	config := DefaultConfig()
	config.BaseURL = baseURL
	return NewWithConfig(config)
}

// NewWithConfig creates a client with custom configuration.
func NewWithConfig(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[command] ", log.LstdFlags)
	}
	return &Client{baseURL: base, http: httpClient, logger: logger}, nil
}

// BaseURL returns the server address this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// errorBody is the server's structured error payload. Detail is usually a
// string but validation failures carry a list of objects.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func (b errorBody) message() string {
	if len(b.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Detail, &s); err == nil {
		return s
	}
	return string(b.Detail)
}

// do sends one request. body is serialized as JSON when non-nil and out, when
// non-nil, receives the decoded success payload.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		detail := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.message() != "" {
			detail = eb.message()
		}
		reqErr := &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: detail}
		c.logger.Printf("Request failed: %v", reqErr)
		return reqErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func cellPath(id string) string {
	return "/cells/" + url.PathEscape(id)
}
