package schema

import (
	"errors"
	"net/http"
)

// SignalKind enumerates host control-flow signals. They are not application
// failures: compiled actions hand them back to the caller untouched.
type SignalKind string

const (
	SignalRedirect SignalKind = "NEXT_REDIRECT"
	SignalNotFound SignalKind = "NEXT_NOT_FOUND"
)

// ControlSignal asks the transport layer to perform a redirect or render a
// not-found response.
type ControlSignal struct {
	Kind     SignalKind `json:"kind"`
	Location string     `json:"location,omitempty"`
	Status   int        `json:"status,omitempty"`
}

func (s *ControlSignal) Error() string {
	return string(s.Kind)
}

// Redirect returns a redirect signal. A zero status defaults to 303 See Other.
func Redirect(location string, status int) error {
	if status == 0 {
		status = http.StatusSeeOther
	}
	return &ControlSignal{Kind: SignalRedirect, Location: location, Status: status}
}

// NotFound returns a not-found signal.
func NotFound() error {
	return &ControlSignal{Kind: SignalNotFound, Status: http.StatusNotFound}
}

// AsControlSignal reports whether err is (or wraps) a control signal.
func AsControlSignal(err error) (*ControlSignal, bool) {
	var sig *ControlSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}
