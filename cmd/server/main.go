package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pizarraia/promptboard/internal/api"
	"github.com/pizarraia/promptboard/internal/config"
	"github.com/pizarraia/promptboard/internal/db"
	"github.com/pizarraia/promptboard/internal/ratelimit"
	"github.com/pizarraia/promptboard/internal/session"
	"github.com/pizarraia/promptboard/internal/ws"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer database.Close()

	registry := session.NewRegistry()

	hub := ws.NewHub(database, registry, logger)
	hub.SetRotateInterval(cfg.RotateInterval)
	go hub.Run()

	limiter := ratelimit.NewPerClient(cfg.HTTPRateLimit, cfg.HTTPRateBurst)
	defer limiter.Stop()

	apiHandler := api.New(hub, database, logger)
	router := api.NewRouter(apiHandler, hub, logger, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("db", cfg.DBPath).
			Dur("rotate_interval", cfg.RotateInterval).
			Msg("promptboard server starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
