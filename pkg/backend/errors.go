package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies REST failures.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // timeout, refused, reset
	KindHTTP    ErrorKind = "http"    // non-2xx response
	KindDecode  ErrorKind = "decode"  // unexpected body
)

// Sentinels matched by errors.Is against *Error.
var (
	ErrNetwork = errors.New("network error")
	ErrHTTP    = errors.New("http error")
	ErrDecode  = errors.New("decode error")
)

// Error is the typed error returned by RESTClient.
type Error struct {
	Op     string
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// StatusCode returns the HTTP status of a backend error, or 0.
func StatusCode(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}

// WebSocket client errors.
var (
	ErrNotConnected       = errors.New("websocket not connected")
	ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")
)
