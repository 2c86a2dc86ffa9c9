// Package store persists room lifecycle records for the relay.
package store

import (
	"context"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

// Store holds room records. Implementations return core.ErrRoomNotFound
// for unknown ids.
type Store interface {
	SaveRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// ListActive returns every room still marked active.
	ListActive(ctx context.Context) ([]*domain.Room, error)
}
