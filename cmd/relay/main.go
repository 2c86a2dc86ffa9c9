package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/config"
	"github.com/pushkar-hue/teleconsult/internal/relay"
	"github.com/pushkar-hue/teleconsult/internal/relay/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.Relay.RedisAddr != "" {
		rs := store.NewRedis(cfg.Relay.RedisAddr, cfg.Relay.RoomTTL*2)
		if err := rs.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Relay.RedisAddr).Msg("redis")
		}
		defer rs.Close()
		st = rs
		log.Info().Str("addr", cfg.Relay.RedisAddr).Msg("using redis store")
	} else {
		st = store.NewMemory()
		log.Info().Msg("using in-memory store")
	}

	reg := relay.NewRegistry(st, cfg.Relay.RoomTTL, log)
	hub := relay.NewHub(log)
	srv := relay.NewServer(reg, hub, cfg.Relay.Secret, log)

	go srv.RunSweeper(ctx, cfg.Relay.SweepInterval)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.Relay.Port).Msg("relay listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
