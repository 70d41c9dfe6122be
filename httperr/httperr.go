// Package httperr carries an HTTP status code alongside an error so that
// failures deep in the translation pipeline surface to the client with the
// right status and a plain-text description.
package httperr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is an error with an associated HTTP status code. The message is
// client visible and must never contain credentials or bearer tokens.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error with the given status and formatted message.
func New(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the HTTP status to report for err. Errors that do not
// carry a status are programmer errors and map to 500.
func StatusOf(err error) int {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Status
	}
	return http.StatusInternalServerError
}

// maxUpstreamBody bounds how much of an upstream error body is echoed back.
const maxUpstreamBody = 2048

// FromResponse translates an unexpected upstream registry response into an
// Error. Authentication and not-found responses keep their status, anything
// else the registry was not expected to return maps to 502.
func FromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &Error{Status: resp.StatusCode, Message: msg}
	default:
		return &Error{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("unexpected registry response %d: %s", resp.StatusCode, msg),
		}
	}
}
