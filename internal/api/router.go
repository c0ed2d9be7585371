package api

import (
	"encoding/json"
	"net/http"

	"github.com/aiboxcloud/management/internal/api/handlers"
	"github.com/aiboxcloud/management/internal/api/middleware"
	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, s store.Store, sessions session.Store) http.Handler {
	factory := sso.NewFactory(cfg.SSO)
	directory := sso.NewDirectory(cfg.SSO)
	h := handlers.New(cfg, s, factory, directory)

	sessionAuth := middleware.NewSessionAuth(factory)
	tokenAuth := middleware.NewTokenAuth(h.Tokens)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewSessions(sessions).Handler)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Get("/sign-in", h.SignIn)
			r.Get("/callback", h.Callback)
			r.Get("/sign-out", h.SignOut)

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Gate(false))
				r.Get("/user-info", h.UserInfo)
				r.Get("/protected", h.Protected)
				r.Get("/sso-users", h.SSOUsers)
			})
		})

		r.Route("/knowledgebase-user", func(r chi.Router) {
			r.Get("/health", h.Health)

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Gate(false))
				r.Get("/knowledgebases", h.ListKnowledgebases)
				r.Get("/knowledgebases/{kbId}", h.GetKnowledgebase)
				r.Get("/knowledgebases/{kbId}/documents", h.ListKnowledgebaseDocuments)
				r.Get("/personal-documents", h.PersonalDocuments)
			})
		})

		// Local account administration, guarded by the bearer token
		// from /auth/login.
		r.Route("/users", func(r chi.Router) {
			r.Use(tokenAuth.Handler)
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Put("/{userId}", h.UpdateUser)
			r.Delete("/{userId}", h.DeleteUser)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "management",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "management",
		})
	}
}
