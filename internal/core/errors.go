// Package core holds the contracts between the call components and the
// error taxonomy they surface.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable: capture hardware exists but could not be opened
	// (missing, busy, or permission denied).
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrNotSupported: the platform has no capture support at all.
	ErrNotSupported = errors.New("media capture not supported")

	ErrRoomCreationFailed = errors.New("room creation failed")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room full")

	ErrNegotiation          = errors.New("negotiation failed")
	ErrSignalingUnreachable = errors.New("signaling unreachable")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrAlreadyInCall        = errors.New("already in call")
)

// CallError carries a taxonomy sentinel plus a human-readable reason.
// errors.Is(err, core.ErrRoomFull) etc. work through Unwrap.
type CallError struct {
	Kind   error
	Reason string
}

func NewCallError(kind error, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *CallError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *CallError) Unwrap() error { return e.Kind }
