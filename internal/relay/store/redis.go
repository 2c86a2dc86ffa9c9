package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

const (
	roomKeyPrefix = "teleconsult:room:"
	activeSetKey  = "teleconsult:rooms:active"
)

// Redis stores rooms as JSON blobs with a TTL, plus a set of active
// room ids for the sweeper. Used when several relay instances share
// room state.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(addr string, ttl time.Duration) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) SaveRoom(ctx context.Context, room *domain.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, roomKeyPrefix+string(room.ID), raw, r.ttl)
	if room.Active {
		pipe.SAdd(ctx, activeSetKey, string(room.ID))
	} else {
		pipe.SRem(ctx, activeSetKey, string(room.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

func (r *Redis) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	raw, err := r.rdb.Get(ctx, roomKeyPrefix+string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrRoomNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &room, nil
}

func (r *Redis) ListActive(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetRoom(ctx, domain.RoomID(id))
		if errors.Is(err, core.ErrRoomNotFound) {
			// Record expired under the set entry; drop the stale id.
			r.rdb.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}
