package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/seatboard/go/internal/dbconfig"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/mcdev12/seatboard/go/internal/docstore/kv"
	"github.com/mcdev12/seatboard/go/internal/docstore/postgres"
	"github.com/mcdev12/seatboard/go/internal/migrate"
)

// storeHandle is the chosen document store plus whatever must run or be
// released alongside it
type storeHandle struct {
	Store docstore.Store
	run   func(ctx context.Context) error
	close func()
}

// Run blocks running background work for the store, if any
func (h *storeHandle) Run(ctx context.Context) error {
	if h.run == nil {
		<-ctx.Done()
		return nil
	}
	return h.run(ctx)
}

func (h *storeHandle) Close() {
	if h.close != nil {
		h.close()
	}
}

func setupStore(ctx context.Context, config *Config) (*storeHandle, error) {
	switch config.Store.Backend {
	case backendPostgres:
		return setupPostgres(ctx, config)
	case backendKV:
		store, err := kv.Connect(ctx, kv.Config{URL: config.Store.NATSURL, Bucket: config.Store.Bucket})
		if err != nil {
			return nil, err
		}
		return &storeHandle{Store: store, close: func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close key value store")
			}
		}}, nil
	default:
		log.Warn().Msg("using in-memory document store, state is lost on restart")
		return &storeHandle{Store: docstore.NewMemory()}, nil
	}
}

func setupPostgres(ctx context.Context, config *Config) (*storeHandle, error) {
	dbCfg := dbconfig.NewConfigFromEnv()
	dsn := dbCfg.DSN()

	if err := migrate.Up(ctx, dsn); err != nil {
		return nil, err
	}

	db, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	store := postgres.NewStore(db)

	ltCfg := postgres.DefaultListenerConfig()
	ltCfg.DatabaseURL = dsn
	if config.Store.FallbackInterval > 0 {
		ltCfg.FallbackInterval = config.Store.FallbackInterval
	}
	listener, err := postgres.NewListener(store, ltCfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	// the listener closes itself when its context ends
	return &storeHandle{Store: store, run: listener.Start, close: db.Close}, nil
}
