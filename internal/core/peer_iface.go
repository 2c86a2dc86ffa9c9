package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is one peer connection for one call attempt. A failed
// negotiation discards the instance; retry builds a fresh one.
type MediaConnection interface {
	// AttachLocalTracks adds the stream's tracks before negotiation.
	AttachLocalTracks(Stream) error
	CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyRemoteAnswer fails unless a local offer is outstanding.
	ApplyRemoteAnswer(webrtc.SessionDescription) error
	// AddRemoteCandidate buffers until a remote description is applied,
	// then replays buffered candidates in arrival order.
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnRemoteTrack sets a callback invoked when a remote track arrives.
	OnRemoteTrack(func(*webrtc.TrackRemote))
	// OnClosed sets a callback for connection teardown or ICE failure.
	OnClosed(func())
	// Close is idempotent.
	Close()
	IsClosed() bool
}
