package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/token"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
)

// Login issues a bearer token for the local admin credential pair.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signed, err := h.Tokens.Issue(req.Username, req.Password)
	if err != nil {
		// Unknown-user and wrong-password both answer 400 with their
		// distinct message.
		if errors.Is(err, token.ErrUnknownUser) || errors.Is(err, token.ErrWrongPassword) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("token issue failed")
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	respondData(w, map[string]string{"token": signed}, "login successful")
}

// SignIn starts the SSO flow: prime the session and bounce the browser
// to the identity provider.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	client := h.SSO.Client(pkgmw.GetSession(r.Context()))
	redirectURI := h.externalBaseURL(r) + "/api/v1/auth/callback"

	signInURL, err := client.SignInURL(r.Context(), redirectURI)
	if err != nil {
		log.Error().Err(err).Msg("sign-in URL construction failed")
		respondError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	http.Redirect(w, r, signInURL, http.StatusFound)
}

// Callback finishes the SSO flow. Success lands the browser back on
// the application root; any validation failure answers 401 without
// touching established session state.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	client := h.SSO.Client(pkgmw.GetSession(r.Context()))

	callbackURL := h.externalBaseURL(r) + r.URL.RequestURI()
	if err := client.HandleCallback(r.Context(), callbackURL); err != nil {
		var xerr *sso.ExchangeError
		if errors.As(err, &xerr) {
			log.Warn().Err(err).Msg("sign-in callback rejected")
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		log.Error().Err(err).Msg("sign-in callback failed")
		respondError(w, http.StatusInternalServerError, "callback failed")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// SignOut clears the session tokens and bounces the browser to the
// provider's logout endpoint.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	client := h.SSO.Client(pkgmw.GetSession(r.Context()))

	signOutURL, err := client.SignOutURL(r.Context(), h.externalBaseURL(r))
	if err != nil {
		log.Error().Err(err).Msg("sign-out URL construction failed")
		respondError(w, http.StatusInternalServerError, "sign-out failed")
		return
	}
	http.Redirect(w, r, signOutURL, http.StatusFound)
}

// UserInfo returns the ID-token claims for the authenticated session.
func (h *Handlers) UserInfo(w http.ResponseWriter, r *http.Request) {
	claims := pkgmw.GetIdentity(r.Context())
	respondData(w, claims, "user info fetched")
}

// Protected is a session-gated example endpoint.
func (h *Handlers) Protected(w http.ResponseWriter, r *http.Request) {
	claims := pkgmw.GetIdentity(r.Context())
	respondData(w, map[string]any{
		"message": "this endpoint requires an authenticated session",
		"user":    claims,
	}, "request successful")
}

// SSOUsers lists the accounts registered at the identity provider.
func (h *Handlers) SSOUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Directory.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("directory listing failed")
		respondError(w, http.StatusInternalServerError, "failed to list identity provider users")
		return
	}
	respondData(w, map[string]any{"list": list, "total": len(list)}, "identity provider users fetched")
}
