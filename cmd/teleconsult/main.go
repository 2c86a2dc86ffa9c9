package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/backend"
	"github.com/pushkar-hue/teleconsult/internal/call"
	"github.com/pushkar-hue/teleconsult/internal/config"
	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
	"github.com/pushkar-hue/teleconsult/internal/identity"
	"github.com/pushkar-hue/teleconsult/internal/media"
	"github.com/pushkar-hue/teleconsult/internal/rtc"
	"github.com/pushkar-hue/teleconsult/internal/signal"
)

func main() {
	roomFlag := flag.String("room", "", "room id to join; empty creates a new room")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	role, err := domain.ParseRole(cfg.Client.Role)
	if err != nil {
		log.Fatal().Str("role", cfg.Client.Role).Msg("bad role in config")
	}
	id := identity.FromToken(cfg.Client.AccessToken, domain.UserID(cfg.Client.UserID), cfg.Client.UserName, role)
	self, err := domain.NewParticipant(id.UserID(), id.UserName(), id.Role())
	if err != nil {
		log.Fatal().Err(err).Msg("identity")
	}

	var capture core.CaptureBackend
	if cfg.Client.SyntheticMedia {
		capture = media.NewSyntheticBackend(log)
	} else {
		capture, err = media.NewDeviceBackend(log)
		if err != nil {
			log.Fatal().Err(err).Msg("capture backend")
		}
	}
	mediaSrc := media.NewManager(capture, log)
	defer mediaSrc.Release()

	channel := signal.NewChannel(signal.Options{
		URL:        cfg.Client.SignalURL,
		Token:      cfg.Client.AccessToken,
		User:       self,
		MaxRetries: cfg.Client.ReconnectRetries,
		Logger:     log,
	})
	if err := channel.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("signal connect")
	}
	defer channel.Close()

	rooms := backend.NewClient(cfg.Client.RelayURL, id, log)

	machine := call.NewMachine(call.Options{
		Media:    mediaSrc,
		Channel:  channel,
		Rooms:    rooms,
		Identity: id,
		NewPeer: func() (core.MediaConnection, error) {
			return rtc.NewConnection(cfg.Client.STUNServers, log)
		},
		Events: call.Events{
			StateChanged: func(s call.State) {
				log.Info().Str("state", string(s)).Msg("call")
			},
			RemoteTrack: func(t *webrtc.TrackRemote) {
				log.Info().Str("kind", t.Kind().String()).Msg("receiving remote media")
			},
			PeerJoined: func(p core.PresencePayload) {
				log.Info().Str("name", p.UserName).Msg("peer joined")
			},
			ChatMessage: func(msg domain.ChatMessage) {
				log.Info().Str("from", msg.SenderName).Str("text", msg.Content).Msg("chat")
			},
			Error: func(err error) {
				log.Error().Err(err).Msg("call error")
			},
		},
		NegotiationTimeout: cfg.Client.NegotiationTimeout,
		Logger:             log,
	})

	if err := machine.StartCall(ctx, domain.RoomID(*roomFlag)); err != nil {
		log.Fatal().Err(err).Msg("start call")
	}
	log.Info().Str("room", string(machine.RoomID())).Msg("call started, type to chat, /mute /video /quit")

	runCtx, quit := context.WithCancel(ctx)
	go readCommands(runCtx, machine, quit, log)

	<-runCtx.Done()
	machine.EndCall(context.Background(), "client shutdown")
	log.Info().Dur("duration", machine.Duration()).Msg("bye")
}

// readCommands turns stdin lines into chat or control commands.
func readCommands(ctx context.Context, m *call.Machine, quit context.CancelFunc, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			m.EndCall(ctx, "user hung up")
			quit()
			return
		case line == "/mute":
			log.Info().Bool("muted", m.ToggleMute(ctx)).Msg("mic")
		case line == "/video":
			log.Info().Bool("video", m.ToggleVideo(ctx)).Msg("camera")
		default:
			if err := m.SendChat(line); err != nil {
				log.Warn().Err(err).Msg("chat send")
			}
		}
	}
}
