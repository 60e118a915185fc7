package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/meshroom/internal/adapters/http"
	"github.com/dkeye/meshroom/internal/adapters/redis"
	sig "github.com/dkeye/meshroom/internal/adapters/signal"
	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var rooms core.RosterStore = app.NewRoomManager()
	if cfg.Redis.Addr != "" {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer client.Close()
		rooms = redis.NewRosterStore(client, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis roster")
	}

	var policy app.Policy = app.TolerantPolicy{}
	if cfg.Signal.KickSlow {
		policy = app.SimplePolicy{}
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   policy,
	}
	ctrl := sig.NewSignalWSController(o, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.Signal.SendBuffer,
		Limiter:    sig.NewRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval),
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meshroom server started")
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
