package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

// Memory is the default store: a mutex-guarded map. Rooms are copied on
// the way in and out so callers never share mutable state.
type Memory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[domain.RoomID]*domain.Room)}
}

func (m *Memory) SaveRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (m *Memory) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRoomNotFound, id)
	}
	return cloneRoom(room), nil
}

func (m *Memory) ListActive(_ context.Context) ([]*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []*domain.Room
	for _, room := range m.rooms {
		if room.Active {
			active = append(active, cloneRoom(room))
		}
	}
	return active, nil
}

func cloneRoom(r *domain.Room) *domain.Room {
	c := *r
	c.Participants = append([]domain.Participant(nil), r.Participants...)
	return &c
}
