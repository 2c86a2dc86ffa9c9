package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

type MessageType string

const (
	MsgJoin         MessageType = "join"
	MsgLeave        MessageType = "leave"
	MsgChat         MessageType = "message"
	MsgVideoOffer   MessageType = "video-offer"
	MsgVideoAnswer  MessageType = "video-answer"
	MsgICECandidate MessageType = "ice-candidate"
	MsgUserJoined   MessageType = "user_joined_video"
	MsgUserLeft     MessageType = "user-left"
	MsgRoomEnded    MessageType = "video_room_ended"
	MsgError        MessageType = "error"
)

// SignalingMessage is the single envelope both the relay and the client
// speak. Payload interpretation depends on Type; the relay forwards it
// opaquely and only stamps SenderID from the authenticated session.
type SignalingMessage struct {
	Type       MessageType     `json:"type"`
	Room       domain.RoomID   `json:"room,omitempty"`
	SenderID   domain.UserID   `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"` // unix millis, relay-stamped
}

type ChatPayload struct {
	Content string `json:"content"`
}

type PresencePayload struct {
	UserID   domain.UserID `json:"user_id"`
	UserName string        `json:"user_name,omitempty"`
}

type RoomEndedPayload struct {
	EndedBy domain.UserID `json:"ended_by"`
	Reason  string        `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewJoinMessage(room domain.RoomID, sender domain.UserID) SignalingMessage {
	return SignalingMessage{Type: MsgJoin, Room: room, SenderID: sender}
}

func NewLeaveMessage(room domain.RoomID, sender domain.UserID) SignalingMessage {
	return SignalingMessage{Type: MsgLeave, Room: room, SenderID: sender}
}

func NewOfferMessage(room domain.RoomID, sender domain.UserID, sdp webrtc.SessionDescription) (SignalingMessage, error) {
	return withPayload(SignalingMessage{Type: MsgVideoOffer, Room: room, SenderID: sender}, sdp)
}

func NewAnswerMessage(room domain.RoomID, sender domain.UserID, sdp webrtc.SessionDescription) (SignalingMessage, error) {
	return withPayload(SignalingMessage{Type: MsgVideoAnswer, Room: room, SenderID: sender}, sdp)
}

func NewCandidateMessage(room domain.RoomID, sender domain.UserID, cand webrtc.ICECandidateInit) (SignalingMessage, error) {
	return withPayload(SignalingMessage{Type: MsgICECandidate, Room: room, SenderID: sender}, cand)
}

func NewChatMessage(room domain.RoomID, sender domain.Participant, content string) (SignalingMessage, error) {
	msg, err := withPayload(SignalingMessage{Type: MsgChat, Room: room, SenderID: sender.ID}, ChatPayload{Content: content})
	if err != nil {
		return SignalingMessage{}, err
	}
	msg.SenderName = sender.Name
	return msg, nil
}

func withPayload(msg SignalingMessage, payload any) (SignalingMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalingMessage{}, fmt.Errorf("marshal %s payload: %w", msg.Type, err)
	}
	msg.Payload = raw
	msg.Timestamp = time.Now().UnixMilli()
	return msg, nil
}

// SessionDescription decodes an offer or answer payload.
func (m SignalingMessage) SessionDescription() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(m.Payload, &sdp); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return sdp, nil
}

// Candidate decodes an ice-candidate payload.
func (m SignalingMessage) Candidate() (webrtc.ICECandidateInit, error) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Payload, &cand); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return cand, nil
}

// Chat decodes a chat payload into the domain message, using the
// envelope's relay-stamped sender and timestamp.
func (m SignalingMessage) Chat() (domain.ChatMessage, error) {
	var p ChatPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return domain.ChatMessage{
		Room:       m.Room,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    p.Content,
		Timestamp:  time.UnixMilli(m.Timestamp).UTC(),
	}, nil
}

// RoomEnded decodes a video_room_ended payload.
func (m SignalingMessage) RoomEnded() (RoomEndedPayload, error) {
	var p RoomEndedPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}
