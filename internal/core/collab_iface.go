package core

import (
	"context"
	"time"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

type RoomInfo struct {
	Room         domain.RoomID        `json:"room_id"`
	Participants []domain.Participant `json:"participants"`
	CreatedAt    time.Time            `json:"created_at"`
}

type RoomStatus struct {
	Exists bool `json:"exists"`
	Active bool `json:"active"`
}

// RoomAPI is the room lifecycle REST surface of the relay.
type RoomAPI interface {
	// CreateRoom opens a room for this user; target optionally names the
	// other expected participant.
	CreateRoom(ctx context.Context, target domain.UserID) (RoomInfo, error)
	// JoinRoom fails with ErrRoomNotFound or ErrRoomFull.
	JoinRoom(ctx context.Context, room domain.RoomID) (RoomInfo, error)
	EndRoom(ctx context.Context, room domain.RoomID, reason string) error
	CheckRoom(ctx context.Context, room domain.RoomID) (RoomStatus, error)
}

// Identity is who this client is, as read from the access token.
type Identity interface {
	UserID() domain.UserID
	UserName() string
	Role() domain.Role
	AccessToken() string
}
