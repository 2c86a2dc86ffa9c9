package signal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

type testRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	frames   chan core.SignalingMessage

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		frames:   make(chan core.SignalingMessage, 64),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		for {
			var msg core.SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			r.frames <- msg
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRelay) dropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
	r.conns = nil
}

func (r *testRelay) lastConn(t *testing.T) *websocket.Conn {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		t.Fatal("no relay connection")
	}
	return r.conns[len(r.conns)-1]
}

func (r *testRelay) waitFrame(t *testing.T, want core.MessageType) core.SignalingMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-r.frames:
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s frame within deadline", want)
		}
	}
}

func testChannel(relay *testRelay) *Channel {
	return NewChannel(Options{
		URL:             relay.url(),
		User:            domain.Participant{ID: "u1", Name: "pat", Role: domain.RolePatient},
		MaxRetries:      3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
}

func TestJoinBeforeConnectIsFlushed(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	defer ch.Close()

	ch.JoinRoom("room-a")
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	join := relay.waitFrame(t, core.MsgJoin)
	if join.Room != "room-a" {
		t.Errorf("join room = %q, want room-a", join.Room)
	}
	if join.SenderID != "u1" {
		t.Errorf("join sender = %q, want u1", join.SenderID)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.JoinRoom("room-b")
	relay.waitFrame(t, core.MsgJoin)

	relay.dropConnections()

	// The channel must re-dial and restore membership on its own.
	join := relay.waitFrame(t, core.MsgJoin)
	if join.Room != "room-b" {
		t.Errorf("rejoin room = %q, want room-b", join.Room)
	}

	rooms := ch.JoinedRooms()
	if len(rooms) != 1 || rooms[0] != "room-b" {
		t.Errorf("joined rooms = %v, want [room-b]", rooms)
	}
}

func TestConnectFailsAfterRetryBudget(t *testing.T) {
	relay := newTestRelay(t)
	url := relay.url()
	relay.srv.Close()

	ch := NewChannel(Options{
		URL:             url,
		User:            domain.Participant{ID: "u1", Name: "pat", Role: domain.RolePatient},
		MaxRetries:      2,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	defer ch.Close()

	err := ch.Connect(context.Background())
	if !errors.Is(err, core.ErrSignalingUnreachable) {
		t.Fatalf("connect error = %v, want ErrSignalingUnreachable", err)
	}
	if ch.Connected() {
		t.Error("channel reports connected after failed connect")
	}
}

func TestUnreachableNotifiedAfterDrop(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	defer ch.Close()

	states := make(chan core.ChannelState, 8)
	ch.OnStateChange(func(s core.ChannelState) { states <- s })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.srv.Close()
	relay.dropConnections()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == core.ChannelUnreachable {
				return
			}
		case <-deadline:
			t.Fatal("never saw unreachable state")
		}
	}
}

func TestInboundFramesAreDispatched(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	defer ch.Close()

	got := make(chan core.SignalingMessage, 1)
	ch.On(core.MsgVideoOffer, func(msg core.SignalingMessage) { got <- msg })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.JoinRoom("room-c")
	relay.waitFrame(t, core.MsgJoin)

	out := core.SignalingMessage{Type: core.MsgVideoOffer, Room: "room-c", SenderID: "u2"}
	if err := relay.lastConn(t).WriteJSON(out); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Room != "room-c" || msg.SenderID != "u2" {
			t.Errorf("dispatched %+v, want room-c from u2", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("offer never dispatched")
	}
}

func TestLeaveRoomDropsMembership(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.JoinRoom("room-d")
	relay.waitFrame(t, core.MsgJoin)
	ch.LeaveRoom("room-d")
	leave := relay.waitFrame(t, core.MsgLeave)
	if leave.Room != "room-d" {
		t.Errorf("leave room = %q, want room-d", leave.Room)
	}
	if rooms := ch.JoinedRooms(); len(rooms) != 0 {
		t.Errorf("joined rooms = %v, want none", rooms)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	relay := newTestRelay(t)
	ch := testChannel(relay)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.Close()
	if err := ch.Send(core.NewJoinMessage("room-e", "u1")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("send after close = %v, want ErrChannelClosed", err)
	}
}
