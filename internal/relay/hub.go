package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

const (
	sendQueueSize = 32
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	defaultLimit  = 32768
	pingPeriodHub = 54 * time.Second
)

// client is one websocket session. Sends go through a bounded queue; a
// slow reader gets frames dropped, never blocks the room.
type client struct {
	user   domain.Participant
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	joined map[domain.RoomID]struct{}
}

func (c *client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Hub fans signaling frames out to room members. Membership here is
// signaling-level presence; the Registry owns room lifecycle.
type Hub struct {
	log        zerolog.Logger
	pingPeriod time.Duration
	readLimit  int64

	mu    sync.RWMutex
	rooms map[domain.RoomID]map[*client]struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log.With().Str("module", "hub").Logger(),
		pingPeriod: pingPeriodHub,
		readLimit:  defaultLimit,
		rooms:      make(map[domain.RoomID]map[*client]struct{}),
	}
}

// ServeConn owns the websocket for its lifetime and blocks until the
// peer goes away.
func (h *Hub) ServeConn(conn *websocket.Conn, user domain.Participant) {
	c := &client{
		user:   user,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		joined: make(map[domain.RoomID]struct{}),
	}
	h.log.Info().Str("user", string(user.ID)).Msg("signal session opened")
	go h.writePump(c)
	h.readPump(c)

	rooms := h.dropClient(c)
	for _, room := range rooms {
		h.notifyLeft(room, c)
	}
	c.close()
	h.log.Info().Str("user", string(user.ID)).Msg("signal session closed")
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(h.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(c, raw)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleFrame(c *client, raw []byte) {
	var msg core.SignalingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn().Err(err).Str("user", string(c.user.ID)).Msg("bad frame")
		h.sendError(c, "malformed frame")
		return
	}
	// The session is the authority on who sent the frame.
	msg.SenderID = c.user.ID
	if msg.SenderName == "" {
		msg.SenderName = c.user.Name
	}

	switch msg.Type {
	case core.MsgJoin:
		h.join(msg.Room, c)
	case core.MsgLeave:
		if h.leave(msg.Room, c) {
			h.notifyLeft(msg.Room, c)
		}
	case core.MsgChat:
		if !h.isMember(msg.Room, c) {
			h.sendError(c, "not in room "+string(msg.Room))
			return
		}
		h.relayChat(&msg)
	case core.MsgVideoOffer, core.MsgVideoAnswer, core.MsgICECandidate:
		if !h.isMember(msg.Room, c) {
			h.sendError(c, "not in room "+string(msg.Room))
			return
		}
		h.broadcast(msg.Room, &msg, c)
	default:
		h.sendError(c, "unsupported type "+string(msg.Type))
	}
}

// relayChat stamps id and timestamp so both ends agree on ordering,
// then echoes to everyone, sender included.
func (h *Hub) relayChat(msg *core.SignalingMessage) {
	var p core.ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		h.log.Warn().Err(err).Msg("chat payload")
		return
	}
	stamped := struct {
		core.ChatPayload
		ID string `json:"id"`
	}{ChatPayload: p, ID: uuid.NewString()}
	raw, _ := json.Marshal(stamped) //nolint:errcheck
	msg.Payload = raw
	msg.Timestamp = time.Now().UnixMilli()
	h.broadcast(msg.Room, msg, nil)
}

func (h *Hub) join(room domain.RoomID, c *client) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.joined[room] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("room", string(room)).Str("user", string(c.user.ID)).Msg("joined")
}

func (h *Hub) leave(room domain.RoomID, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, member := members[c]; !member {
		return false
	}
	delete(members, c)
	delete(c.joined, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return true
}

func (h *Hub) dropClient(c *client) []domain.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]domain.RoomID, 0, len(c.joined))
	for room := range c.joined {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		rooms = append(rooms, room)
	}
	c.joined = make(map[domain.RoomID]struct{})
	return rooms
}

func (h *Hub) isMember(room domain.RoomID, c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, member := members[c]
	return member
}

// broadcast sends to every member except exclude. Dropped frames are
// counted, not retried.
func (h *Hub) broadcast(room domain.RoomID, msg *core.SignalingMessage, exclude *client) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn().Err(err).Msg("broadcast encode")
		return
	}
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[room]))
	for m := range h.rooms[room] {
		if m != exclude {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, m := range members {
		if !m.trySend(raw) {
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn().Str("room", string(room)).Int("dropped", dropped).Msg("slow members")
	}
}

func (h *Hub) notifyLeft(room domain.RoomID, c *client) {
	payload, _ := json.Marshal(core.PresencePayload{UserID: c.user.ID, UserName: c.user.Name}) //nolint:errcheck
	h.broadcast(room, &core.SignalingMessage{
		Type:      core.MsgUserLeft,
		Room:      room,
		SenderID:  c.user.ID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}, c)
}

// NotifyJoined tells current members someone came in through the REST
// join endpoint.
func (h *Hub) NotifyJoined(room domain.RoomID, user domain.Participant) {
	payload, _ := json.Marshal(core.PresencePayload{UserID: user.ID, UserName: user.Name}) //nolint:errcheck
	h.broadcast(room, &core.SignalingMessage{
		Type:       core.MsgUserJoined,
		Room:       room,
		SenderID:   user.ID,
		SenderName: user.Name,
		Payload:    payload,
		Timestamp:  time.Now().UnixMilli(),
	}, nil)
}

// NotifyRoomEnded pushes video_room_ended to everyone still connected.
func (h *Hub) NotifyRoomEnded(room *domain.Room) {
	payload, _ := json.Marshal(core.RoomEndedPayload{EndedBy: room.EndedBy, Reason: room.EndReason}) //nolint:errcheck
	h.broadcast(room.ID, &core.SignalingMessage{
		Type:      core.MsgRoomEnded,
		Room:      room.ID,
		SenderID:  room.EndedBy,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}, nil)
}

func (h *Hub) sendError(c *client, message string) {
	payload, _ := json.Marshal(core.ErrorPayload{Message: message}) //nolint:errcheck
	raw, _ := json.Marshal(core.SignalingMessage{Type: core.MsgError, Payload: payload}) //nolint:errcheck
	c.trySend(raw)
}
