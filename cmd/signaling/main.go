package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/conference-signaling/config"
	"github.com/mossy-p/conference-signaling/internal/conference"
	"github.com/mossy-p/conference-signaling/internal/handlers"
	"github.com/mossy-p/conference-signaling/internal/hub"
	"github.com/mossy-p/conference-signaling/internal/logger"
	"github.com/mossy-p/conference-signaling/internal/redis"
	"github.com/mossy-p/conference-signaling/internal/session"
	"github.com/mossy-p/conference-signaling/internal/sink"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := session.NewPionFactory(session.ICEServers(cfg.ICE), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build peer connection factory")
	}

	var mirrors []hub.Mirror
	if cfg.Redis.Enabled {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		mirrors = append(mirrors, rdb)
		log.Info().Str("key", redis.StateKey).Msg("Redis state mirror enabled")
	}

	coord := conference.New(conference.Options{
		Factory:           factory,
		Sink:              sink.New(log),
		HeartbeatInterval: cfg.HeartbeatInterval,
		Mirrors:           mirrors,
		Logger:            log,
	})
	coord.Start(ctx)

	router := handlers.NewRouter(cfg, handlers.New(coord, log))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Bool("tls", cfg.TLS.Enabled()).Msg("starting conference signaling server")

		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	coord.Shutdown()
}
