package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type RoomID string

// MaxRoomParticipants caps a consultation room at one patient and one doctor.
const MaxRoomParticipants = 2

// Room is the lifecycle record of a consultation. The two-party invariant
// and all state transitions live in the relay registry, not here.
type Room struct {
	ID           RoomID        `json:"id"`
	Creator      UserID        `json:"creator"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
	Active       bool          `json:"active"`
	EndedBy      UserID        `json:"ended_by,omitempty"`
	EndReason    string        `json:"end_reason,omitempty"`
	EndedAt      time.Time     `json:"ended_at,omitzero"`
}

// NewRoomID mints ids of the form "room-1f2e3d4c5b6a".
func NewRoomID() RoomID {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return RoomID("room-" + hex[:12])
}

func NewRoom(creator Participant) *Room {
	return &Room{
		ID:           NewRoomID(),
		Creator:      creator.ID,
		CreatedAt:    time.Now().UTC(),
		Participants: []Participant{creator},
		Active:       true,
	}
}

func (r *Room) HasParticipant(id UserID) bool {
	for _, p := range r.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}
