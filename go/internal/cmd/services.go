package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/seatboard/go/internal/admin"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/mcdev12/seatboard/go/internal/gateway"
)

type Services struct {
	Verifier *auth.Verifier
	Admin    *admin.Service
	Gateway  *gateway.Service
}

func setupServices(config *Config, store docstore.Store) *Services {
	// Wire up dependency injection chain
	// Document store → Sync adapter → Gateway sessions
	clock := clockwork.NewRealClock()

	verifier := auth.NewVerifier([]byte(config.Auth.Secret), clock)
	adminService := admin.NewService(store, clock, config.Auth.BootstrapAdmins...)
	adapter := boardsync.NewAdapter(store, boardsync.WithBackoff(config.Store.RetryBase, config.Store.MaxRetries))

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.BoardCollection = config.Board.Collection
	gatewayConfig.BoardDocID = config.Board.DocID
	gatewayConfig.TournamentCollection = config.Board.TournamentCollection
	gatewayConfig.NavTTL = config.Board.NavTTL
	gatewayConfig.FrameInterval = config.Board.FrameInterval
	gatewayConfig.TickInterval = config.Board.TickInterval

	gatewayService := gateway.NewService(gatewayConfig, gateway.Deps{
		Adapter:  adapter,
		Verifier: verifier,
		Users:    adminService,
		Clock:    clock,
	})

	return &Services{
		Verifier: verifier,
		Admin:    adminService,
		Gateway:  gatewayService,
	}
}
