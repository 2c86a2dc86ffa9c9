package media

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"

	// Capture drivers register themselves on import.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// DeviceBackend captures from the real camera and microphone through
// pion/mediadevices, encoding VP8 video and Opus audio.
type DeviceBackend struct {
	log      zerolog.Logger
	selector *mediadevices.CodecSelector
}

func NewDeviceBackend(log zerolog.Logger) (*DeviceBackend, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8 encoder: %v", core.ErrNotSupported, err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", core.ErrNotSupported, err)
	}
	opusParams.Latency = opus.Latency20ms

	return &DeviceBackend{
		log: log.With().Str("module", "media").Str("backend", "devices").Logger(),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (b *DeviceBackend) Capture(ctx context.Context) (core.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		},
		Codec: b.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}

	tracks := make([]core.LocalTrack, 0, 2)
	for _, t := range ms.GetTracks() {
		b.log.Debug().Str("id", t.ID()).Str("kind", t.Kind().String()).Msg("track opened")
		tracks = append(tracks, newDeviceTrack(t))
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no tracks", core.ErrDeviceUnavailable)
	}
	return &stream{tracks: tracks}, nil
}

// deviceTrack wraps a mediadevices track. The encoder keeps running
// while disabled; the flag gates what the call machine advertises.
type deviceTrack struct {
	track   mediadevices.Track
	enabled atomic.Bool
}

func newDeviceTrack(t mediadevices.Track) *deviceTrack {
	dt := &deviceTrack{track: t}
	dt.enabled.Store(true)
	return dt
}

func (t *deviceTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }
func (t *deviceTrack) ID() string                { return t.track.ID() }
func (t *deviceTrack) Enabled() bool             { return t.enabled.Load() }
func (t *deviceTrack) SetEnabled(v bool)         { t.enabled.Store(v) }
func (t *deviceTrack) RTP() webrtc.TrackLocal    { return t.track }
func (t *deviceTrack) Close() error              { return t.track.Close() }
