package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

const defaultNegotiationTimeout = 30 * time.Second

// PeerFactory builds a fresh peer connection per call attempt.
type PeerFactory func() (core.MediaConnection, error)

// Events are optional observer callbacks. They fire outside the machine
// lock, so handlers may call back into the machine.
type Events struct {
	StateChanged func(State)
	LocalStream  func(core.Stream)
	RemoteTrack  func(*webrtc.TrackRemote)
	PeerJoined   func(core.PresencePayload)
	ChatMessage  func(domain.ChatMessage)
	Error        func(error)
}

type Options struct {
	Media              core.MediaSource
	Channel            core.SignalChannel
	Rooms              core.RoomAPI
	Identity           core.Identity
	NewPeer            PeerFactory
	Events             Events
	NegotiationTimeout time.Duration
	Logger             zerolog.Logger
}

// Machine drives a call through its lifecycle. At most one call is
// active at a time; the local stream outlives the call so the preview
// stays warm for the next one.
type Machine struct {
	media   core.MediaSource
	channel core.SignalChannel
	rooms   core.RoomAPI
	id      core.Identity
	newPeer PeerFactory
	events  Events
	log     zerolog.Logger

	negotiationTimeout time.Duration

	mu          sync.Mutex
	state       State
	roomID      domain.RoomID
	peer        core.MediaConnection
	initiator   bool
	retried     bool
	lastErr     error
	connectedAt time.Time
	endedAt     time.Time
	subs        []core.Subscription
	negTimer    *time.Timer
	callCtx     context.Context
	callCancel  context.CancelFunc
}

func NewMachine(opts Options) *Machine {
	if opts.NegotiationTimeout == 0 {
		opts.NegotiationTimeout = defaultNegotiationTimeout
	}
	return &Machine{
		media:              opts.Media,
		channel:            opts.Channel,
		rooms:              opts.Rooms,
		id:                 opts.Identity,
		newPeer:            opts.NewPeer,
		events:             opts.Events,
		log:                opts.Logger.With().Str("module", "call").Logger(),
		negotiationTimeout: opts.NegotiationTimeout,
		state:              StateIdle,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) RoomID() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Duration is zero until media flows, live while connected, and frozen
// at hangup.
func (m *Machine) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedAt.IsZero() {
		return 0
	}
	if !m.endedAt.IsZero() {
		return m.endedAt.Sub(m.connectedAt)
	}
	return time.Since(m.connectedAt)
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.Info().Str("from", string(prev)).Str("to", string(s)).Msg("state")
		if m.events.StateChanged != nil {
			m.events.StateChanged(s)
		}
	}
}

// abandoned reports whether the call left the expected phase while the
// caller was blocked, e.g. EndCall raced an in-flight acquisition.
func (m *Machine) abandoned(expect ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range expect {
		if m.state == s {
			return false
		}
	}
	return true
}

// StartCall joins roomID, or creates a room when roomID is empty. The
// creator is the offerer; the joiner answers.
func (m *Machine) StartCall(ctx context.Context, roomID domain.RoomID) error {
	m.mu.Lock()
	if m.state.Active() {
		m.mu.Unlock()
		return core.ErrAlreadyInCall
	}
	m.state = StateAcquiringMedia
	m.roomID = ""
	m.lastErr = nil
	m.retried = false
	m.connectedAt = time.Time{}
	m.endedAt = time.Time{}
	m.initiator = roomID == ""
	m.callCtx, m.callCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()
	if m.events.StateChanged != nil {
		m.events.StateChanged(StateAcquiringMedia)
	}

	stream, err := m.acquireMedia(ctx)
	if err != nil {
		m.fail(err)
		return err
	}
	if m.abandoned(StateAcquiringMedia) {
		return nil
	}
	if m.events.LocalStream != nil {
		m.events.LocalStream(stream)
	}

	m.setState(StateJoiningRoom)
	peer, err := m.buildPeer(stream)
	if err != nil {
		m.fail(err)
		return err
	}

	m.mu.Lock()
	initiator := m.initiator
	m.mu.Unlock()

	// The joiner listens on the signaling room before announcing itself
	// over REST: the relay pushes user_joined_video on that join, and the
	// initiator's repeated offer must find the joiner already present.
	if !initiator {
		m.mu.Lock()
		m.roomID = roomID
		m.mu.Unlock()
		m.subscribe(roomID)
		m.channel.JoinRoom(roomID)
	}

	info, err := m.enterRoom(ctx, roomID)
	if err != nil {
		m.fail(err)
		return err
	}
	// An offer may already have arrived and moved the joiner along.
	if m.abandoned(StateJoiningRoom, StateAnswering) {
		return nil
	}

	if initiator {
		m.mu.Lock()
		m.roomID = info.Room
		m.mu.Unlock()
		m.subscribe(info.Room)
		m.channel.JoinRoom(info.Room)
		m.setState(StateOffering)
		if err := m.sendOffer(peer); err != nil {
			return m.negotiationFailure(err)
		}
	} else if !m.abandoned(StateJoiningRoom) {
		m.setState(StateAnswering)
	}
	m.armNegotiationTimer()
	return nil
}

// acquireMedia retries once: a busy device often frees up immediately
// after the first failed open.
func (m *Machine) acquireMedia(ctx context.Context) (core.Stream, error) {
	st := m.media.State()
	stream, err := m.media.Acquire(ctx, st.VideoEnabled, st.AudioEnabled)
	if err == nil {
		return stream, nil
	}
	m.log.Warn().Err(err).Msg("media acquire failed, retrying once")
	stream, retryErr := m.media.Acquire(ctx, st.VideoEnabled, st.AudioEnabled)
	if retryErr == nil {
		return stream, nil
	}
	return nil, retryErr
}

func (m *Machine) enterRoom(ctx context.Context, roomID domain.RoomID) (core.RoomInfo, error) {
	if roomID == "" {
		return m.rooms.CreateRoom(ctx, "")
	}
	return m.rooms.JoinRoom(ctx, roomID)
}

func (m *Machine) buildPeer(stream core.Stream) (core.MediaConnection, error) {
	peer, err := m.newPeer()
	if err != nil {
		return nil, core.NewCallError(core.ErrNegotiation, "peer setup: %v", err)
	}
	peer.OnICECandidate(m.handleLocalCandidate)
	peer.OnRemoteTrack(m.handleRemoteTrack)
	peer.OnClosed(m.handlePeerClosed)
	if err := peer.AttachLocalTracks(stream); err != nil {
		peer.Close()
		return nil, err
	}
	m.mu.Lock()
	m.peer = peer
	m.mu.Unlock()
	return peer, nil
}

func (m *Machine) sendOffer(peer core.MediaConnection) error {
	m.mu.Lock()
	ctx, room := m.callCtx, m.roomID
	m.mu.Unlock()
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	msg, err := core.NewOfferMessage(room, m.id.UserID(), *offer)
	if err != nil {
		return err
	}
	return m.channel.Send(msg)
}

func (m *Machine) subscribe(room domain.RoomID) {
	match := func(fn func(core.SignalingMessage)) func(core.SignalingMessage) {
		return func(msg core.SignalingMessage) {
			if msg.Room != room || msg.SenderID == m.id.UserID() {
				return
			}
			fn(msg)
		}
	}
	subs := []core.Subscription{
		m.channel.On(core.MsgVideoOffer, match(m.handleOffer)),
		m.channel.On(core.MsgVideoAnswer, match(m.handleAnswer)),
		m.channel.On(core.MsgICECandidate, match(m.handleCandidate)),
		m.channel.On(core.MsgChat, m.handleChat(room)),
		m.channel.On(core.MsgUserJoined, match(m.handleUserJoined)),
		m.channel.On(core.MsgUserLeft, match(m.handleUserLeft)),
		m.channel.On(core.MsgRoomEnded, m.handleRoomEnded(room)),
		m.channel.OnStateChange(m.handleChannelState),
	}
	m.mu.Lock()
	m.subs = subs
	m.mu.Unlock()
}

func (m *Machine) unsubscribeLocked() []core.Subscription {
	subs := m.subs
	m.subs = nil
	return subs
}

func (m *Machine) handleLocalCandidate(cand webrtc.ICECandidateInit) {
	m.mu.Lock()
	room := m.roomID
	active := m.state.Active()
	m.mu.Unlock()
	if !active {
		return
	}
	msg, err := core.NewCandidateMessage(room, m.id.UserID(), cand)
	if err != nil {
		m.log.Warn().Err(err).Msg("candidate encode")
		return
	}
	if err := m.channel.Send(msg); err != nil {
		m.log.Warn().Err(err).Msg("candidate send")
	}
}

func (m *Machine) handleOffer(msg core.SignalingMessage) {
	m.mu.Lock()
	peer := m.peer
	state := m.state
	initiator := m.initiator
	ctx := m.callCtx
	room := m.roomID
	m.mu.Unlock()

	if peer == nil || !state.Active() {
		return
	}
	if state == StateConnected {
		// Track changes do not renegotiate; a late offer has nothing to do.
		return
	}
	if initiator {
		// Glare: both sides offered. The creator wins; drop theirs.
		m.log.Warn().Msg("offer ignored during own offer")
		return
	}
	offer, err := msg.SessionDescription()
	if err != nil {
		m.log.Warn().Err(err).Msg("offer decode")
		return
	}
	m.setState(StateAnswering)
	answer, err := peer.CreateAnswer(ctx, offer)
	if err != nil {
		m.negotiationFailure(err)
		return
	}
	out, err := core.NewAnswerMessage(room, m.id.UserID(), *answer)
	if err != nil {
		m.negotiationFailure(err)
		return
	}
	if err := m.channel.Send(out); err != nil {
		m.negotiationFailure(err)
		return
	}
	m.armNegotiationTimer()
}

func (m *Machine) handleAnswer(msg core.SignalingMessage) {
	m.mu.Lock()
	peer := m.peer
	initiator := m.initiator
	state := m.state
	m.mu.Unlock()
	if peer == nil || !initiator || state != StateOffering {
		return
	}
	answer, err := msg.SessionDescription()
	if err != nil {
		m.log.Warn().Err(err).Msg("answer decode")
		return
	}
	if err := peer.ApplyRemoteAnswer(answer); err != nil {
		m.negotiationFailure(err)
	}
}

func (m *Machine) handleCandidate(msg core.SignalingMessage) {
	m.mu.Lock()
	peer := m.peer
	m.mu.Unlock()
	if peer == nil {
		return
	}
	cand, err := msg.Candidate()
	if err != nil {
		m.log.Warn().Err(err).Msg("candidate decode")
		return
	}
	if err := peer.AddRemoteCandidate(cand); err != nil {
		m.log.Warn().Err(err).Msg("candidate apply")
	}
}

func (m *Machine) handleChat(room domain.RoomID) func(core.SignalingMessage) {
	return func(msg core.SignalingMessage) {
		if msg.Room != room {
			return
		}
		chat, err := msg.Chat()
		if err != nil {
			m.log.Warn().Err(err).Msg("chat decode")
			return
		}
		if m.events.ChatMessage != nil {
			m.events.ChatMessage(chat)
		}
	}
}

func (m *Machine) handleUserJoined(msg core.SignalingMessage) {
	m.log.Info().Str("sender", string(msg.SenderID)).Msg("peer joined room")
	if m.events.PeerJoined != nil {
		m.events.PeerJoined(core.PresencePayload{UserID: msg.SenderID, UserName: msg.SenderName})
	}

	m.mu.Lock()
	peer := m.peer
	offering := m.initiator && m.state == StateOffering
	m.mu.Unlock()
	if !offering || peer == nil {
		return
	}
	// The relay forwards only to members present at send time; the first
	// offer went out into an empty room, so repeat it for the newcomer.
	if err := m.sendOffer(peer); err != nil {
		m.negotiationFailure(err)
		return
	}
	m.armNegotiationTimer()
}

func (m *Machine) handleUserLeft(core.SignalingMessage) {
	m.log.Info().Msg("peer left, ending call")
	m.endCall("peer left")
}

func (m *Machine) handleRoomEnded(room domain.RoomID) func(core.SignalingMessage) {
	return func(msg core.SignalingMessage) {
		if msg.Room != room {
			return
		}
		ended, err := msg.RoomEnded()
		if err == nil && ended.EndedBy == m.id.UserID() {
			return
		}
		m.log.Info().Str("ended_by", string(ended.EndedBy)).Msg("room ended remotely")
		m.endCall("room ended")
	}
}

func (m *Machine) handleChannelState(state core.ChannelState) {
	if state != core.ChannelUnreachable {
		return
	}
	m.mu.Lock()
	active := m.state.Active()
	m.mu.Unlock()
	if active {
		m.fail(core.NewCallError(core.ErrSignalingUnreachable, "reconnect budget spent"))
	}
}

func (m *Machine) handleRemoteTrack(track *webrtc.TrackRemote) {
	m.mu.Lock()
	negotiating := m.state.Negotiating()
	if negotiating {
		m.state = StateConnected
		m.connectedAt = time.Now()
	}
	connected := m.state == StateConnected
	m.stopNegotiationTimerLocked()
	m.mu.Unlock()

	if !connected {
		return
	}
	if negotiating {
		m.log.Info().Str("to", string(StateConnected)).Msg("state")
		if m.events.StateChanged != nil {
			m.events.StateChanged(StateConnected)
		}
	}
	if m.events.RemoteTrack != nil {
		m.events.RemoteTrack(track)
	}
}

func (m *Machine) handlePeerClosed() {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == StateConnected {
		m.fail(core.NewCallError(core.ErrNegotiation, "transport failed mid-call"))
	}
}

func (m *Machine) armNegotiationTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopNegotiationTimerLocked()
	m.negTimer = time.AfterFunc(m.negotiationTimeout, m.onNegotiationTimeout)
}

func (m *Machine) stopNegotiationTimerLocked() {
	if m.negTimer != nil {
		m.negTimer.Stop()
		m.negTimer = nil
	}
}

func (m *Machine) onNegotiationTimeout() {
	m.mu.Lock()
	negotiating := m.state.Negotiating()
	m.mu.Unlock()
	if negotiating {
		m.negotiationFailure(core.NewCallError(core.ErrNegotiation, "timed out after %s", m.negotiationTimeout))
	}
}

// negotiationFailure retries once with a fresh connection, then fails
// the call. Returns nil when a retry is in flight.
func (m *Machine) negotiationFailure(cause error) error {
	m.mu.Lock()
	if !m.state.Active() || m.state == StateEnding {
		m.mu.Unlock()
		return nil
	}
	first := !m.retried
	m.retried = true
	old := m.peer
	m.peer = nil
	initiator := m.initiator
	m.mu.Unlock()

	if !first {
		err := core.NewCallError(core.ErrNegotiation, "retry failed: %v", cause)
		m.fail(err)
		return err
	}
	m.log.Warn().Err(cause).Msg("negotiation failed, retrying once")
	if old != nil {
		old.Close()
	}

	stream := m.media.Stream()
	if stream == nil {
		err := core.NewCallError(core.ErrNegotiation, "no local stream for retry")
		m.fail(err)
		return err
	}
	peer, err := m.buildPeer(stream)
	if err != nil {
		m.fail(err)
		return err
	}
	if initiator {
		m.setState(StateOffering)
		if err := m.sendOffer(peer); err != nil {
			failErr := core.NewCallError(core.ErrNegotiation, "retry offer: %v", err)
			m.fail(failErr)
			return failErr
		}
	} else {
		m.setState(StateAnswering)
	}
	m.armNegotiationTimer()
	return nil
}

// EndCall hangs up from any state, including mid-negotiation. The local
// stream is kept warm; call Release on the media source to drop it.
func (m *Machine) EndCall(ctx context.Context, reason string) {
	m.endCallWith(ctx, reason, true)
}

// endCall is the remote-initiated path: the room is already gone, so
// only local teardown runs.
func (m *Machine) endCall(reason string) {
	m.endCallWith(context.Background(), reason, false)
}

func (m *Machine) endCallWith(ctx context.Context, reason string, endRoom bool) {
	m.mu.Lock()
	if !m.state.Active() {
		m.mu.Unlock()
		return
	}
	m.state = StateEnding
	room := m.roomID
	peer := m.peer
	m.peer = nil
	subs := m.unsubscribeLocked()
	m.stopNegotiationTimerLocked()
	cancel := m.callCancel
	m.mu.Unlock()

	if m.events.StateChanged != nil {
		m.events.StateChanged(StateEnding)
	}
	for _, s := range subs {
		s.Cancel()
	}
	if room != "" {
		m.channel.LeaveRoom(room)
		if endRoom {
			if err := m.rooms.EndRoom(ctx, room, reason); err != nil {
				m.log.Warn().Err(err).Msg("end room")
			}
		}
	}
	if peer != nil {
		peer.Close()
	}
	if cancel != nil {
		cancel()
	}

	// Nothing else may claim the terminal state once teardown started.
	m.mu.Lock()
	ended := m.state == StateEnding
	if ended {
		m.state = StateEnded
		m.endedAt = time.Now()
	}
	m.mu.Unlock()
	if !ended {
		return
	}
	m.log.Info().Str("room", string(room)).Str("reason", reason).Msg("call ended")
	if m.events.StateChanged != nil {
		m.events.StateChanged(StateEnded)
	}
}

// fail tears the call down into the failed state. Media stays acquired
// so the next attempt skips the device prompt.
func (m *Machine) fail(err error) {
	m.mu.Lock()
	if m.state.Terminal() || m.state == StateEnding {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.lastErr = err
	m.endedAt = time.Now()
	room := m.roomID
	peer := m.peer
	m.peer = nil
	subs := m.unsubscribeLocked()
	m.stopNegotiationTimerLocked()
	cancel := m.callCancel
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	if room != "" {
		m.channel.LeaveRoom(room)
	}
	if peer != nil {
		peer.Close()
	}
	if cancel != nil {
		cancel()
	}
	m.log.Error().Err(err).Str("room", string(room)).Msg("call failed")
	if m.events.Error != nil {
		m.events.Error(err)
	}
	if m.events.StateChanged != nil {
		m.events.StateChanged(StateFailed)
	}
}

// ToggleVideo flips the camera flag and returns the new value. Valid in
// any state; before acquisition it only records the wish.
func (m *Machine) ToggleVideo(ctx context.Context) bool {
	next := !m.media.State().VideoEnabled
	if err := m.media.SetVideoEnabled(ctx, next); err != nil {
		m.log.Warn().Err(err).Msg("toggle video")
	}
	return m.media.State().VideoEnabled
}

// ToggleMute flips the microphone flag and reports whether the mic is
// now muted.
func (m *Machine) ToggleMute(ctx context.Context) bool {
	next := !m.media.State().AudioEnabled
	if err := m.media.SetAudioEnabled(ctx, next); err != nil {
		m.log.Warn().Err(err).Msg("toggle audio")
	}
	return !m.media.State().AudioEnabled
}

// SendChat queues a chat message for the current room. The relay echoes
// it back to everyone, sender included, so the local copy arrives via
// the ChatMessage event.
func (m *Machine) SendChat(content string) error {
	m.mu.Lock()
	room := m.roomID
	active := m.state.Active()
	m.mu.Unlock()
	if !active || room == "" {
		return errors.New("no active call")
	}
	sender := domain.Participant{ID: m.id.UserID(), Name: m.id.UserName(), Role: m.id.Role()}
	msg, err := core.NewChatMessage(room, sender, content)
	if err != nil {
		return err
	}
	return m.channel.Send(msg)
}
