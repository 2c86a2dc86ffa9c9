// Package media owns the local capture stream across calls.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
)

// Manager implements core.MediaSource over a CaptureBackend. The stream
// is opened once and stays warm between calls; toggles only flip track
// enabled flags. Logical flags are tracked before any stream exists and
// reconciled at acquisition, so early toggles are never lost.
type Manager struct {
	backend core.CaptureBackend
	log     zerolog.Logger

	mu     sync.Mutex
	stream core.Stream
	video  bool
	audio  bool
}

func NewManager(backend core.CaptureBackend, log zerolog.Logger) *Manager {
	return &Manager{
		backend: backend,
		log:     log.With().Str("module", "media").Logger(),
		video:   true,
		audio:   true,
	}
}

func (m *Manager) Acquire(ctx context.Context, video, audio bool) (core.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = video
	m.audio = audio
	return m.acquireLocked(ctx)
}

func (m *Manager) acquireLocked(ctx context.Context) (core.Stream, error) {
	if m.stream != nil {
		m.reconcileLocked()
		return m.stream, nil
	}
	s, err := m.backend.Capture(ctx)
	if err != nil {
		return nil, err
	}
	m.stream = s
	m.reconcileLocked()
	m.log.Info().Int("tracks", len(s.Tracks())).
		Bool("video", m.video).Bool("audio", m.audio).Msg("stream acquired")
	return s, nil
}

// reconcileLocked applies the logical flags to the live tracks.
func (m *Manager) reconcileLocked() {
	for _, t := range m.stream.Tracks() {
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			t.SetEnabled(m.video)
		case webrtc.RTPCodecTypeAudio:
			t.SetEnabled(m.audio)
		}
	}
}

func (m *Manager) SetVideoEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = enabled
	if m.stream == nil {
		// The flag is recorded either way; a capture failure here only
		// defers acquisition to the next Acquire.
		_, err := m.acquireLocked(ctx)
		return err
	}
	m.reconcileLocked()
	return nil
}

func (m *Manager) SetAudioEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = enabled
	if m.stream == nil {
		_, err := m.acquireLocked(ctx)
		return err
	}
	m.reconcileLocked()
	return nil
}

func (m *Manager) Stream() core.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Manager) State() core.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.MediaState{
		VideoEnabled: m.video,
		AudioEnabled: m.audio,
		Acquired:     m.stream != nil,
	}
}

func (m *Manager) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		if err := t.Close(); err != nil {
			m.log.Warn().Err(err).Str("track", t.ID()).Msg("track close failed")
		}
	}
	m.log.Info().Msg("stream released")
}

// stream is the concrete core.Stream shared by both backends.
type stream struct {
	tracks []core.LocalTrack
}

func (s *stream) Tracks() []core.LocalTrack { return s.tracks }
