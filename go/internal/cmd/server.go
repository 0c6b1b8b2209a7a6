package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/seatboard/go/internal/admin"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins:   config.CORS.AllowedOrigins,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Register services
	registerServices(mux, services)

	// Add health check endpoint
	setupHealthCheck(mux, services)

	// Wrap with CORS
	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Board gateway: websocket sessions, navigation slots, state reads
	services.Gateway.RegisterRoutes(mux)

	// Admin panel and profile
	admin.NewHandler(services.Admin).Register(mux, services.Verifier)
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		stats := services.Gateway.GetStats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"service":     "seatboard",
			"connections": stats.TotalConnections,
			"boards":      stats.ActiveBoards,
		}); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}
