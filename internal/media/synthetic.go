package media

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"

	"github.com/google/uuid"
)

// SyntheticBackend produces silent placeholder tracks. Used on headless
// hosts and in integration tests where no camera exists.
type SyntheticBackend struct {
	log zerolog.Logger
}

func NewSyntheticBackend(log zerolog.Logger) *SyntheticBackend {
	return &SyntheticBackend{log: log.With().Str("module", "media").Str("backend", "synthetic").Logger()}
}

func (b *SyntheticBackend) Capture(ctx context.Context) (core.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "synthetic-" + uuid.NewString()[:8]
	video, err := newSyntheticTrack(webrtc.MimeTypeVP8, webrtc.RTPCodecTypeVideo, streamID, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	audio, err := newSyntheticTrack(webrtc.MimeTypeOpus, webrtc.RTPCodecTypeAudio, streamID, 20*time.Millisecond)
	if err != nil {
		video.Close()
		return nil, err
	}
	b.log.Debug().Str("stream", streamID).Msg("synthetic tracks opened")
	return &stream{tracks: []core.LocalTrack{video, audio}}, nil
}

// syntheticTrack feeds empty samples at a fixed cadence while enabled.
type syntheticTrack struct {
	kind    webrtc.RTPCodecType
	rtp     *webrtc.TrackLocalStaticSample
	period  time.Duration
	enabled atomic.Bool
	stop    chan struct{}
	stopped atomic.Bool
}

func newSyntheticTrack(mime string, kind webrtc.RTPCodecType, streamID string, period time.Duration) (*syntheticTrack, error) {
	rtp, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		kind.String()+"-"+uuid.NewString()[:8],
		streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &syntheticTrack{kind: kind, rtp: rtp, period: period, stop: make(chan struct{})}
	t.enabled.Store(true)
	go t.feed()
	return t, nil
}

func (t *syntheticTrack) feed() {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			// WriteSample fails until the track is bound; harmless.
			_ = t.rtp.WriteSample(media.Sample{Data: []byte{0}, Duration: t.period})
		}
	}
}

func (t *syntheticTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *syntheticTrack) ID() string                { return t.rtp.ID() }
func (t *syntheticTrack) Enabled() bool             { return t.enabled.Load() }
func (t *syntheticTrack) SetEnabled(v bool)         { t.enabled.Store(v) }
func (t *syntheticTrack) RTP() webrtc.TrackLocal    { return t.rtp }

func (t *syntheticTrack) Close() error {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.stop)
	}
	return nil
}
