package core

import (
	"context"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

type ChannelState string

const (
	ChannelConnected    ChannelState = "connected"
	ChannelDisconnected ChannelState = "disconnected"
	// ChannelUnreachable is terminal: the reconnect budget is spent.
	ChannelUnreachable ChannelState = "unreachable"
)

// Subscription is a handler registration; Cancel is idempotent and safe
// to call from inside a handler.
type Subscription interface {
	Cancel()
}

// SignalChannel is the client side of the relay websocket. Joins issued
// before the channel connects are queued and flushed on connect; joined
// rooms are re-joined after a reconnect.
type SignalChannel interface {
	// Connect blocks until the first dial succeeds or the retry budget
	// is spent, then keeps the connection alive in the background.
	Connect(ctx context.Context) error
	Close()
	Connected() bool
	JoinRoom(domain.RoomID)
	LeaveRoom(domain.RoomID)
	// Send is best-effort at-most-once; it fails when the outbound queue
	// is full or the channel is closed.
	Send(SignalingMessage) error
	// On registers a handler for one message type. Handlers for the same
	// type run in registration order.
	On(MessageType, func(SignalingMessage)) Subscription
	OnStateChange(func(ChannelState)) Subscription
}
