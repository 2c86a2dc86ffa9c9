package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

const (
	defaultMaxRetries   = 5
	defaultPingPeriod   = 54 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultSendQueue    = 64
)

var (
	ErrChannelClosed = errors.New("signal channel closed")
	ErrSendQueueFull = errors.New("signal send queue full")
)

type Options struct {
	// URL of the relay websocket endpoint, ws(s)://host/ws/signal.
	URL   string
	Token string
	User  domain.Participant

	// MaxRetries bounds dial attempts per outage, initial connect included.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	PingPeriod      time.Duration
	WriteTimeout    time.Duration
	SendQueue       int

	Logger zerolog.Logger
}

// Channel keeps one websocket to the relay alive. Joins issued while
// disconnected are remembered and flushed on (re)connect, so room
// membership survives a drop.
type Channel struct {
	opts   Options
	log    zerolog.Logger
	dialer *websocket.Dialer
	disp   *dispatcher
	states *stateNotifier

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	joined    map[domain.RoomID]struct{}
	connected bool
	closed    bool

	sendCh chan core.SignalingMessage
}

func NewChannel(opts Options) *Channel {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.PingPeriod == 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendQueue == 0 {
		opts.SendQueue = defaultSendQueue
	}
	return &Channel{
		opts:   opts,
		log:    opts.Logger.With().Str("module", "signal").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		disp:   newDispatcher(),
		states: &stateNotifier{},
		joined: make(map[domain.RoomID]struct{}),
		sendCh: make(chan core.SignalingMessage, opts.SendQueue),
	}
}

// Connect dials the relay, retrying with exponential backoff up to the
// configured budget. On success a background loop owns the connection
// and redials after drops with the same budget per outage.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingUnreachable, err)
	}
	c.attach(conn)
	go c.run(conn)
	return nil
}

func (c *Channel) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signal url: %w", err)
	}
	q := u.Query()
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	q.Set("user_id", string(c.opts.User.ID))
	q.Set("user_name", c.opts.User.Name)
	q.Set("role", string(c.opts.User.Role))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialInterval
	bo.MaxInterval = c.opts.MaxInterval

	var conn *websocket.Conn
	op := func() error {
		var dErr error
		conn, _, dErr = c.dialer.DialContext(c.ctx, u.String(), header) //nolint:bodyclose
		if dErr != nil {
			c.log.Debug().Err(dErr).Str("url", u.Host).Msg("dial failed")
		}
		return dErr
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.opts.MaxRetries), c.ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs a live connection and restores room membership.
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	rooms := make([]domain.RoomID, 0, len(c.joined))
	for r := range c.joined {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		c.enqueue(core.NewJoinMessage(r, c.opts.User.ID))
	}
	c.states.notify(core.ChannelConnected)
	c.log.Info().Int("rooms", len(rooms)).Msg("signal connected")
}

func (c *Channel) run(conn *websocket.Conn) {
	for {
		errCh := make(chan error, 2)
		connDone := make(chan struct{})
		go c.writeLoop(conn, connDone, errCh)
		go c.readLoop(conn, errCh)

		select {
		case <-c.ctx.Done():
			close(connDone)
			conn.Close()
			c.setDisconnected()
			c.states.notify(core.ChannelDisconnected)
			return
		case err := <-errCh:
			close(connDone)
			conn.Close()
			c.setDisconnected()
			c.states.notify(core.ChannelDisconnected)
			c.log.Warn().Err(err).Msg("signal connection lost")
		}

		next, err := c.dial()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Error().Err(err).Msg("signal reconnect budget spent")
				c.states.notify(core.ChannelUnreachable)
			}
			return
		}
		c.attach(next)
		conn = next
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg := <-c.sendCh:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				errCh <- fmt.Errorf("write: %w", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errCh <- fmt.Errorf("ping: %w", err)
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		var msg core.SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			errCh <- fmt.Errorf("read: %w", err)
			return
		}
		if msg.Type == core.MsgError {
			c.log.Warn().RawJSON("payload", msg.Payload).Msg("relay rejected frame")
			continue
		}
		c.disp.dispatch(msg)
	}
}

func (c *Channel) setDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
}

func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// JoinRoom records the membership immediately. The join frame goes out
// now when connected, otherwise on the next connect.
func (c *Channel) JoinRoom(room domain.RoomID) {
	c.mu.Lock()
	_, already := c.joined[room]
	c.joined[room] = struct{}{}
	connected := c.connected
	c.mu.Unlock()

	if connected && !already {
		c.enqueue(core.NewJoinMessage(room, c.opts.User.ID))
	}
}

func (c *Channel) LeaveRoom(room domain.RoomID) {
	c.mu.Lock()
	_, member := c.joined[room]
	delete(c.joined, room)
	connected := c.connected
	c.mu.Unlock()

	if connected && member {
		c.enqueue(core.NewLeaveMessage(room, c.opts.User.ID))
	}
}

// JoinedRooms reports the memberships the channel will restore on reconnect.
func (c *Channel) JoinedRooms() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]domain.RoomID, 0, len(c.joined))
	for r := range c.joined {
		rooms = append(rooms, r)
	}
	return rooms
}

// Send queues one frame, at most once. Frames queued while disconnected
// go out after the next successful dial.
func (c *Channel) Send(msg core.SignalingMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.enqueue(msg)
}

func (c *Channel) enqueue(msg core.SignalingMessage) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		c.log.Warn().Str("type", string(msg.Type)).Msg("send queue full, dropping frame")
		return ErrSendQueueFull
	}
}

func (c *Channel) On(t core.MessageType, fn func(core.SignalingMessage)) core.Subscription {
	return c.disp.on(t, fn)
}

func (c *Channel) OnStateChange(fn func(core.ChannelState)) core.Subscription {
	return c.states.on(fn)
}
