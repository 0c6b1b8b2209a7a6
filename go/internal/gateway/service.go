package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/render"
	"github.com/rs/zerolog/log"
)

// Service is the board gateway: it hosts one session per connected tab
type Service struct {
	config      Config
	connections *ConnectionManager
	wsHandler   *WebSocketHandler
	state       *StateHandler
	slots       *NavSlots

	adapter  *boardsync.Adapter
	verifier *auth.Verifier
	users    Users
	clock    clockwork.Clock
}

// Config holds configuration for the board gateway
type Config struct {
	ConnectionConfig ConnectionConfig

	// BoardCollection and BoardDocID locate the shared board document
	BoardCollection      string
	BoardDocID           string
	TournamentCollection string

	NavTTL        time.Duration
	FrameInterval time.Duration
	TickInterval  time.Duration
}

// DefaultConfig returns default configuration for the board gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:     DefaultConnectionConfig(),
		BoardCollection:      "boards",
		BoardDocID:           "main",
		TournamentCollection: "tournaments",
		NavTTL:               30 * time.Second,
		FrameInterval:        render.DefaultFrameInterval,
		TickInterval:         time.Second,
	}
}

// Deps are the collaborators the gateway needs
type Deps struct {
	Adapter  *boardsync.Adapter
	Verifier *auth.Verifier
	Users    Users
	Clock    clockwork.Clock
}

// NewService creates a new board gateway service
func NewService(config Config, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if config.NavTTL <= 0 {
		config.NavTTL = DefaultConfig().NavTTL
	}

	s := &Service{
		config:      config,
		connections: NewConnectionManager(config.ConnectionConfig),
		slots:       NewNavSlots(deps.Clock, config.NavTTL),
		adapter:     deps.Adapter,
		verifier:    deps.Verifier,
		users:       deps.Users,
		clock:       deps.Clock,
	}
	s.wsHandler = NewWebSocketHandler(s)
	s.state = NewStateHandler(s)
	return s
}

// Start sweeps expired navigation slots until ctx is done, then disconnects
// every tab
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting board gateway service")

	ticker := s.clock.NewTicker(s.config.NavTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("board gateway service shutting down")
			s.Stop()
			return nil
		case <-ticker.Chan():
			s.slots.Sweep()
		}
	}
}

// Stop closes all connections and their sessions
func (s *Service) Stop() {
	s.connections.CloseAll()
	log.Info().Msg("board gateway service stopped")
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.state.RegisterStateRoutes(mux)
	log.Info().Msg("board gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connections.GetConnectionStats()
}
