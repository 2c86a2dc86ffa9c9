// Package rtc wraps one pion PeerConnection per call attempt.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
)

// Connection implements core.MediaConnection. Remote ICE candidates
// arriving before the remote description are buffered and replayed in
// arrival order once a description is applied.
type Connection struct {
	log zerolog.Logger
	pc  *webrtc.PeerConnection

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	closed    bool

	cbMu     sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(*webrtc.TrackRemote)
	onClosed func()

	closeOnce  sync.Once
	closedOnce sync.Once
}

func NewConnection(stunServers []string, log zerolog.Logger) (*Connection, error) {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", core.ErrNegotiation, err)
	}

	c := &Connection{
		log: log.With().Str("module", "rtc").Logger(),
		pc:  pc,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := c.iceCallback(); fn != nil {
			fn(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Debug().Str("kind", track.Kind().String()).Msg("remote track")
		if fn := c.trackCallback(); fn != nil {
			fn(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Str("state", state.String()).Msg("connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.fireClosed()
		}
	})
	return c, nil
}

func (c *Connection) iceCallback() func(webrtc.ICECandidateInit) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onICE
}

func (c *Connection) trackCallback() func(*webrtc.TrackRemote) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onTrack
}

func (c *Connection) fireClosed() {
	c.closedOnce.Do(func() {
		c.cbMu.Lock()
		fn := c.onClosed
		c.cbMu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnClosed(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onClosed = fn
}

func (c *Connection) AttachLocalTracks(s core.Stream) error {
	for _, t := range s.Tracks() {
		sender, err := c.pc.AddTrack(t.RTP())
		if err != nil {
			return fmt.Errorf("%w: add %s track: %v", core.ErrNegotiation, t.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP keeps interceptors fed; reports are not consumed here.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local offer: %v", core.ErrNegotiation, err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set remote offer: %v", core.ErrNegotiation, err)
	}
	c.flushCandidates()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local answer: %v", core.ErrNegotiation, err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w: answer in state %s", core.ErrNegotiation, c.pc.SignalingState())
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", core.ErrNegotiation, err)
	}
	c.flushCandidates()
	return nil
}

func (c *Connection) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("%w: add candidate: %v", core.ErrNegotiation, err)
	}
	return nil
}

func (c *Connection) flushCandidates() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if err := c.pc.Close(); err != nil {
			c.log.Warn().Err(err).Msg("peer connection close")
		}
	})
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
