// Package signal implements the client side of the relay websocket.
package signal

import (
	"sync"

	"github.com/pushkar-hue/teleconsult/internal/core"
)

// dispatcher fans one inbound message out to typed handlers in
// registration order. Dispatch runs over a snapshot, so a handler may
// cancel any subscription mid-pass without affecting the current pass.
type dispatcher struct {
	mu       sync.Mutex
	seq      uint64
	handlers map[core.MessageType][]handlerEntry
}

type handlerEntry struct {
	id uint64
	fn func(core.SignalingMessage)
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[core.MessageType][]handlerEntry)}
}

func (d *dispatcher) on(t core.MessageType, fn func(core.SignalingMessage)) core.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	d.handlers[t] = append(d.handlers[t], handlerEntry{id: id, fn: fn})
	return &subscription{cancel: func() { d.off(t, id) }}
}

func (d *dispatcher) off(t core.MessageType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[t]
	for i, e := range entries {
		if e.id == id {
			d.handlers[t] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) dispatch(msg core.SignalingMessage) {
	d.mu.Lock()
	entries := d.handlers[msg.Type]
	snapshot := make([]handlerEntry, len(entries))
	copy(snapshot, entries)
	d.mu.Unlock()

	for _, e := range snapshot {
		e.fn(msg)
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

// stateNotifier is the same fan-out for connection state changes.
type stateNotifier struct {
	mu       sync.Mutex
	seq      uint64
	handlers []stateEntry
}

type stateEntry struct {
	id uint64
	fn func(core.ChannelState)
}

func (n *stateNotifier) on(fn func(core.ChannelState)) core.Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	id := n.seq
	n.handlers = append(n.handlers, stateEntry{id: id, fn: fn})
	return &subscription{cancel: func() { n.off(id) }}
}

func (n *stateNotifier) off(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.handlers {
		if e.id == id {
			n.handlers = append(n.handlers[:i:i], n.handlers[i+1:]...)
			return
		}
	}
}

func (n *stateNotifier) notify(state core.ChannelState) {
	n.mu.Lock()
	snapshot := make([]stateEntry, len(n.handlers))
	copy(snapshot, n.handlers)
	n.mu.Unlock()

	for _, e := range snapshot {
		e.fn(state)
	}
}
