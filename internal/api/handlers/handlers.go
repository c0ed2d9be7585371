// Package handlers implements the HTTP handlers for the management
// backend. Every response uses the {code, data, message} envelope:
// code 0 for success, 1 for any failure.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/kbuser"
	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/store"
	"github.com/aiboxcloud/management/internal/token"
	"github.com/aiboxcloud/management/internal/users"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	KBUser    *kbuser.Service
	Users     *users.Service
	SSO       *sso.Factory
	Directory *sso.Directory
	Tokens    *token.Issuer

	baseURL string
}

// New creates a Handlers instance with all dependencies.
func New(cfg *config.Config, s store.Store, factory *sso.Factory, directory *sso.Directory) *Handlers {
	return &Handlers{
		Store:     s,
		KBUser:    kbuser.NewService(s),
		Users:     users.NewService(s),
		SSO:       factory,
		Directory: directory,
		Tokens:    token.NewIssuer(cfg.Auth),
		baseURL:   cfg.BaseURL,
	}
}

// envelope is the wire shape of every response body.
type envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
}

func respondData(w http.ResponseWriter, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Code: 0, Data: data, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: 1, Message: message})
}

// externalBaseURL is the address redirect URIs are built against. The
// configured base URL wins so deployments behind a proxy advertise the
// public address.
func (h *Handlers) externalBaseURL(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// Health is the unauthenticated liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, map[string]string{"status": "OK"}, "knowledgebase service healthy")
}
