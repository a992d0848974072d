package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransport marks failures where no usable response was received.
	ErrTransport = errors.New("backend: transport failure")
	// ErrMalformed marks 2xx responses whose body could not be understood.
	ErrMalformed = errors.New("backend: malformed response")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("backend: %s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an APIError.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the backend-supplied message carried by err, if any.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

type transportError struct {
	method string
	path   string
	err    error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("backend: %s %s: %v", e.method, e.path, e.err)
}

// Unwrap exposes both the sentinel and the cause, so errors.Is works for
// ErrTransport as well as context.Canceled or net errors.
func (e *transportError) Unwrap() []error { return []error{ErrTransport, e.err} }

// errorBody covers both failure shapes used by the backend: {message} and {error}.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{Method: method, Path: path, Status: status}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		apiErr.Message = strings.TrimSpace(eb.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(eb.Error)
		}
	}
	return apiErr
}
