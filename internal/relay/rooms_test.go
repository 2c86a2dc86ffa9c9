package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
	"github.com/pushkar-hue/teleconsult/internal/relay/store"
)

var (
	patient = domain.Participant{ID: "u-pat", Name: "Pat", Role: domain.RolePatient}
	doctor  = domain.Participant{ID: "u-doc", Name: "Doc", Role: domain.RoleDoctor}
	other   = domain.Participant{ID: "u-other", Name: "Other", Role: domain.RolePatient}
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	return NewRegistry(store.NewMemory(), ttl, zerolog.Nop())
}

func TestCreateAndJoin(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	room, err := reg.CreateRoom(ctx, patient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !room.Active || room.Creator != patient.ID {
		t.Fatalf("room = %+v", room)
	}

	joined, err := reg.JoinRoom(ctx, room.ID, doctor)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(joined.Participants))
	}
}

func TestThirdParticipantRejected(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	room, _ := reg.CreateRoom(ctx, patient)
	if _, err := reg.JoinRoom(ctx, room.ID, doctor); err != nil {
		t.Fatalf("join doctor: %v", err)
	}
	if _, err := reg.JoinRoom(ctx, room.ID, other); !errors.Is(err, core.ErrRoomFull) {
		t.Fatalf("third join = %v, want ErrRoomFull", err)
	}
}

func TestConcurrentJoinsAdmitOnlyOne(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()
	room, err := reg.CreateRoom(ctx, patient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const joiners = 8
	start := make(chan struct{})
	results := make(chan error, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			u := domain.Participant{
				ID:   domain.UserID(fmt.Sprintf("u-race-%d", i)),
				Name: "Joiner",
				Role: domain.RoleDoctor,
			}
			_, err := reg.JoinRoom(ctx, room.ID, u)
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	admitted, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, core.ErrRoomFull):
			rejected++
		default:
			t.Fatalf("join: %v", err)
		}
	}
	if admitted != 1 || rejected != joiners-1 {
		t.Fatalf("admitted = %d, rejected = %d, want 1 and %d", admitted, rejected, joiners-1)
	}
	final, err := reg.JoinRoom(ctx, room.ID, patient)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(final.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(final.Participants))
	}
}

func TestRejoinIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	room, _ := reg.CreateRoom(ctx, patient)
	reg.JoinRoom(ctx, room.ID, doctor)
	joined, err := reg.JoinRoom(ctx, room.ID, doctor)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(joined.Participants) != 2 {
		t.Fatalf("participants = %d after rejoin, want 2", len(joined.Participants))
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	if _, err := reg.JoinRoom(context.Background(), "room-missing", doctor); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("join = %v, want ErrRoomNotFound", err)
	}
}

func TestJoinEndedRoom(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	room, _ := reg.CreateRoom(ctx, patient)
	if _, err := reg.EndRoom(ctx, room.ID, patient.ID, "done"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := reg.JoinRoom(ctx, room.ID, doctor); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("join ended = %v, want ErrRoomNotFound", err)
	}
}

func TestEndRoomRecordsWhoAndWhy(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	room, _ := reg.CreateRoom(ctx, patient)
	ended, err := reg.EndRoom(ctx, room.ID, patient.ID, "consult finished")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Active {
		t.Error("room still active")
	}
	if ended.EndedBy != patient.ID || ended.EndReason != "consult finished" {
		t.Errorf("ended = %+v", ended)
	}
	// Ending twice is a no-op, first writer wins.
	again, err := reg.EndRoom(ctx, room.ID, doctor.ID, "changed mind")
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if again.EndedBy != patient.ID {
		t.Errorf("second end overwrote ended_by: %s", again.EndedBy)
	}
}

func TestCheckRoom(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	if st := reg.CheckRoom(ctx, "room-missing"); st.Exists {
		t.Errorf("missing room status = %+v", st)
	}
	room, _ := reg.CreateRoom(ctx, patient)
	if st := reg.CheckRoom(ctx, room.ID); !st.Exists || !st.Active {
		t.Errorf("active room status = %+v", st)
	}
	reg.EndRoom(ctx, room.ID, patient.ID, "done")
	if st := reg.CheckRoom(ctx, room.ID); !st.Exists || st.Active {
		t.Errorf("ended room status = %+v", st)
	}
}

func TestSweepEndsOnlyStaleRooms(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry(st, 30*time.Minute, zerolog.Nop())
	ctx := context.Background()

	fresh, _ := reg.CreateRoom(ctx, patient)
	stale := domain.NewRoom(doctor)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	if err := st.SaveRoom(ctx, stale); err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	ended := reg.SweepStale(ctx)
	if len(ended) != 1 || ended[0].ID != stale.ID {
		t.Fatalf("swept = %v, want only %s", ended, stale.ID)
	}
	if status := reg.CheckRoom(ctx, fresh.ID); !status.Active {
		t.Error("fresh room was swept")
	}
	if status := reg.CheckRoom(ctx, stale.ID); status.Active {
		t.Error("stale room still active")
	}
}
