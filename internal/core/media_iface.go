package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaState is the logical enabled state the UI reasons about, which is
// tracked even before any hardware has been opened.
type MediaState struct {
	VideoEnabled bool
	AudioEnabled bool
	Acquired     bool
}

// LocalTrack is one captured track plus its logical enabled flag.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	ID() string
	Enabled() bool
	SetEnabled(bool)
	// RTP exposes the track for PeerConnection.AddTrack.
	RTP() webrtc.TrackLocal
	Close() error
}

// Stream groups the tracks of one capture session.
type Stream interface {
	Tracks() []LocalTrack
}

// CaptureBackend opens the platform devices once per acquisition.
// Implementations return ErrDeviceUnavailable or ErrNotSupported.
type CaptureBackend interface {
	Capture(ctx context.Context) (Stream, error)
}

// MediaSource owns the local stream across calls: acquire caches, toggles
// never re-open hardware, release is idempotent and explicit.
type MediaSource interface {
	// Acquire opens devices if needed and reconciles track enabled flags
	// with the requested logical state. Repeated calls return the cached
	// stream.
	Acquire(ctx context.Context, video, audio bool) (Stream, error)
	SetVideoEnabled(ctx context.Context, enabled bool) error
	SetAudioEnabled(ctx context.Context, enabled bool) error
	// Stream returns the cached stream, or nil before acquisition.
	Stream() Stream
	State() MediaState
	// Release stops all tracks and drops the cache. Safe to call twice.
	Release()
}
