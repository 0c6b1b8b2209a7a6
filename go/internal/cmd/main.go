package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(config.LogLevel)
	zerolog.SetGlobalLevel(level)

	// signal-aware context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := setupStore(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Str("backend", config.Store.Backend).Msg("failed to set up document store")
	}
	defer store.Close()

	services := setupServices(config, store.Store)
	server := setupServer(config, services)

	// Start store background work (postgres listener)
	go func() {
		if err := store.Run(ctx); err != nil {
			log.Error().Err(err).Msg("document store listener exited")
		}
	}()

	// Start gateway service (slot janitor, disconnects tabs on shutdown)
	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		if err := services.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("backend", config.Store.Backend).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	select {
	case <-gatewayDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway did not stop in time")
	}

	log.Info().Msg("seatboard shutdown complete")
}
