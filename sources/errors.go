package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrTimeout = errors.New("request timed out")

// TransportError is a failed exchange: the connection broke or the server
// answered with a non-2xx status.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the same request may succeed.
func (e *TransportError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// APIError is the ERROR object the API returns in place of a result.
type APIError struct {
	Source  string `json:"SOURCE"`
	Message string `json:"MESSAGE"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error from %s: %s", e.Source, e.Message)
}

// MalformedResponseError means the body was received but is not a usable
// result.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// DecodeError is a single entry that could not be turned into an event.
type DecodeError struct {
	Raw json.RawMessage
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode position: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying unchanged.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Temporary()
	}
	return false
}
