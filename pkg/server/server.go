// Package server provides the public entry point for initializing the
// management backend server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aiboxcloud/management/internal/api"
	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/internal/store"
	"github.com/aiboxcloud/management/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized management backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (Postgres when DATABASE_URL is set,
	// in-memory otherwise).
	Store store.Store

	// Config is the loaded server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var (
		dataStore store.Store
		sessions  session.Store
	)
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		sessionStore, err := session.NewPostgresStore(ctx, pg.Pool())
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		dataStore = pg
		sessions = sessionStore
	} else {
		dataStore = store.NewMemoryStore()
		sessions = session.NewMemoryStore()
		log.Info().Msg("in-memory store initialized")
	}

	router := api.NewRouter(cfg, dataStore, sessions)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
