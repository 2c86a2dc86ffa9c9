// Package relay is the signaling server: room lifecycle API plus
// websocket fan-out between the two participants of a room.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
	"github.com/pushkar-hue/teleconsult/internal/relay/store"
)

// Registry enforces room lifecycle invariants over a Store: at most two
// participants, join only while active, end exactly once.
type Registry struct {
	store store.Store
	ttl   time.Duration
	log   zerolog.Logger

	// mu serializes get-check-save sequences; the Store alone only
	// guarantees atomic reads and writes, not the invariant between them.
	mu sync.Mutex
}

func NewRegistry(s store.Store, ttl time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		ttl:   ttl,
		log:   log.With().Str("module", "rooms").Logger(),
	}
}

func (r *Registry) CreateRoom(ctx context.Context, creator domain.Participant) (*domain.Room, error) {
	room := domain.NewRoom(creator)
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRoomCreationFailed, err)
	}
	r.log.Info().Str("room", string(room.ID)).Str("creator", string(creator.ID)).Msg("room created")
	return room, nil
}

// JoinRoom is idempotent for existing participants.
func (r *Registry) JoinRoom(ctx context.Context, id domain.RoomID, user domain.Participant) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.Active {
		return nil, fmt.Errorf("%w: %s is no longer active", core.ErrRoomNotFound, id)
	}
	if room.HasParticipant(user.ID) {
		return room, nil
	}
	if len(room.Participants) >= domain.MaxRoomParticipants {
		return nil, fmt.Errorf("%w: %s", core.ErrRoomFull, id)
	}
	room.Participants = append(room.Participants, user)
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("save join: %w", err)
	}
	r.log.Info().Str("room", string(id)).Str("user", string(user.ID)).Msg("participant joined")
	return room, nil
}

func (r *Registry) EndRoom(ctx context.Context, id domain.RoomID, by domain.UserID, reason string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.Active {
		return room, nil
	}
	room.Active = false
	room.EndedBy = by
	room.EndReason = reason
	room.EndedAt = time.Now().UTC()
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("save end: %w", err)
	}
	r.log.Info().Str("room", string(id)).Str("by", string(by)).Str("reason", reason).Msg("room ended")
	return room, nil
}

func (r *Registry) CheckRoom(ctx context.Context, id domain.RoomID) core.RoomStatus {
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return core.RoomStatus{}
	}
	return core.RoomStatus{Exists: true, Active: room.Active}
}

// SweepStale ends active rooms older than the TTL and returns them so
// the hub can notify any connected members.
func (r *Registry) SweepStale(ctx context.Context) []*domain.Room {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("sweep list failed")
		return nil
	}
	cutoff := time.Now().Add(-r.ttl)
	var ended []*domain.Room
	for _, room := range active {
		if room.CreatedAt.After(cutoff) {
			continue
		}
		swept, err := r.EndRoom(ctx, room.ID, "", "stale")
		if err != nil {
			r.log.Warn().Err(err).Str("room", string(room.ID)).Msg("sweep end failed")
			continue
		}
		ended = append(ended, swept)
	}
	if len(ended) > 0 {
		r.log.Info().Int("count", len(ended)).Msg("stale rooms swept")
	}
	return ended
}
