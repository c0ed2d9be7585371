package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/internal/store"
	"github.com/aiboxcloud/management/internal/users"
)

// ListUsers returns one page of local accounts, optionally filtered
// by username or email substring.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("currentPage"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("size"))
	if size < 1 {
		size = 10
	}

	list, total, err := h.Users.List(r.Context(), page, size, q.Get("username"), q.Get("email"))
	if err != nil {
		log.Error().Err(err).Msg("user listing failed")
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	respondData(w, map[string]any{"list": list, "total": total}, "users fetched")
}

// CreateUser registers a local account with its tenant scaffolding.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params users.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.Users.Create(r.Context(), params)
	switch {
	case err == nil:
	case errors.Is(err, users.ErrInvalidInput), errors.Is(err, users.ErrEmailTaken):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		log.Error().Err(err).Msg("user creation failed")
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	respondData(w, map[string]string{"id": id}, "user created")
}

// UpdateUser renames an account.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.Users.Rename(r.Context(), chi.URLParam(r, "userId"), body.Username)
	var nf *store.ErrNotFound
	switch {
	case err == nil:
	case errors.Is(err, users.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, "user not found")
		return
	default:
		log.Error().Err(err).Msg("user update failed")
		respondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	respondData(w, nil, "user updated")
}

// DeleteUser removes an account and its tenant rows.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.Users.Delete(r.Context(), chi.URLParam(r, "userId"))
	var nf *store.ErrNotFound
	switch {
	case err == nil:
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, "user not found")
		return
	default:
		log.Error().Err(err).Msg("user deletion failed")
		respondError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	respondData(w, nil, "user deleted")
}
