package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/adapters/auth"
	router "github.com/akarpov/parley/internal/adapters/http"
	sig "github.com/akarpov/parley/internal/adapters/signal"
	"github.com/akarpov/parley/internal/adapters/store"
	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/config"
	"github.com/akarpov/parley/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var convStore core.ConversationStore
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis store")
		}
		convStore = rs
		log.Info().Msg("using redis conversation store")
	} else {
		convStore = store.NewMemory()
		log.Warn().Msg("using in-memory conversation store, state is volatile")
	}

	registry := app.NewSessionRegistry()
	rooms := app.NewRoomRouter()
	tracker := app.NewDeliveryTracker(convStore, rooms)
	fanout := app.NewMessageFanout(convStore, rooms, registry, tracker, app.KickPolicy{})
	calls := app.NewCallSignalingEngine(convStore, rooms, cfg.RingTimeout)
	presence := app.NewPresenceBroadcaster(convStore, registry)

	ctrl := &sig.SignalWSController{
		Registry:   registry,
		Rooms:      rooms,
		Fanout:     fanout,
		Tracker:    tracker,
		Calls:      calls,
		Presence:   presence,
		Store:      convStore,
		Verifier:   auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Limiter:    sig.NewMapLimiter(cfg.EventRate, cfg.EventBurst),
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
