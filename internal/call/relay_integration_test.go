package call

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/backend"
	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
	"github.com/pushkar-hue/teleconsult/internal/identity"
	"github.com/pushkar-hue/teleconsult/internal/media"
	"github.com/pushkar-hue/teleconsult/internal/relay"
	"github.com/pushkar-hue/teleconsult/internal/relay/store"
	"github.com/pushkar-hue/teleconsult/internal/rtc"
	"github.com/pushkar-hue/teleconsult/internal/signal"
)

func mintCallToken(t *testing.T, id, name string, role domain.Role) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  id,
		"name": name,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("integration"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

type relaySide struct {
	machine *Machine
	channel *signal.Channel
}

// newRelaySide builds one full client stack: synthetic media, a real
// websocket channel, the REST room client and a pion-backed machine.
func newRelaySide(t *testing.T, ctx context.Context, baseURL, wsURL, id, name string, role domain.Role) *relaySide {
	t.Helper()
	log := zerolog.Nop()
	token := mintCallToken(t, id, name, role)
	who := identity.FromToken(token, domain.UserID(id), name, role)
	self, err := domain.NewParticipant(who.UserID(), who.UserName(), who.Role())
	if err != nil {
		t.Fatalf("participant %s: %v", id, err)
	}

	mgr := media.NewManager(media.NewSyntheticBackend(log), log)
	t.Cleanup(mgr.Release)

	ch := signal.NewChannel(signal.Options{URL: wsURL, Token: token, User: self, Logger: log})
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(ch.Close)

	m := NewMachine(Options{
		Media:    mgr,
		Channel:  ch,
		Rooms:    backend.NewClient(baseURL, who, log),
		Identity: who,
		NewPeer: func() (core.MediaConnection, error) {
			return rtc.NewConnection(nil, log)
		},
		NegotiationTimeout: 15 * time.Second,
		Logger:             log,
	})
	return &relaySide{machine: m, channel: ch}
}

func waitStateWithin(t *testing.T, m *Machine, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestCallConnectsThroughRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("full negotiation against a live relay")
	}
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	reg := relay.NewRegistry(store.NewMemory(), time.Hour, log)
	srv := relay.NewServer(reg, relay.NewHub(log), "", log)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/signal"

	ctx := context.Background()
	creator := newRelaySide(t, ctx, ts.URL, wsURL, "u-pat", "Pat", domain.RolePatient)
	joiner := newRelaySide(t, ctx, ts.URL, wsURL, "u-doc", "Doc", domain.RoleDoctor)

	if err := creator.machine.StartCall(ctx, ""); err != nil {
		t.Fatalf("creator start: %v", err)
	}
	room := creator.machine.RoomID()
	if room == "" {
		t.Fatal("no room id after create")
	}
	if err := joiner.machine.StartCall(ctx, room); err != nil {
		t.Fatalf("joiner start: %v", err)
	}

	waitStateWithin(t, creator.machine, StateConnected, 20*time.Second)
	waitStateWithin(t, joiner.machine, StateConnected, 20*time.Second)

	joiner.machine.EndCall(ctx, "consult finished")
	waitStateWithin(t, creator.machine, StateEnded, 5*time.Second)
	if creator.machine.Duration() <= 0 {
		t.Error("no call duration recorded")
	}
}
