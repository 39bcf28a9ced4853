package command

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common errors returned by command operations.
//
// A failed request is reported as a *RequestError that wraps one of these, so
// callers can branch with errors.Is:
//
//	if errors.Is(err, command.ErrNotFound) {
//	    // The cell was deleted by someone else
//	}
var (
	// ErrNotFound is returned when the server does not know the cell.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest is returned when the server rejected the request body,
	// e.g. an unreachable database connection string.
	ErrBadRequest = errors.New("bad request")

	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("server error")

	// ErrUnexpectedStatus is returned for any other non-success status.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// RequestError is a non-success response from the notebook server.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Detail)
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// Unwrap maps the status code onto one of the sentinel errors.
func (e *RequestError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return ErrBadRequest
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrUnexpectedStatus
	}
}

// Message returns the human-readable part of the error, suitable for an
// alert shown to the user.
func Message(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && strings.TrimSpace(reqErr.Detail) != "" {
		return reqErr.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
