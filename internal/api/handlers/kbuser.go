package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/internal/kbuser"
	"github.com/aiboxcloud/management/internal/store"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
)

// requestUserID resolves the user the query is scoped to: an explicit
// user_id query parameter wins, otherwise the session identity.
func requestUserID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	if claims := pkgmw.GetIdentity(r.Context()); claims != nil {
		return claims.Sub
	}
	return ""
}

func pageParams(r *http.Request) (page, size int, name string) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("currentPage"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(q.Get("size"))
	if size < 1 {
		size = kbuser.DefaultPageSize
	}
	return page, size, q.Get("name")
}

// respondKBError maps resolver errors onto the status taxonomy.
func respondKBError(w http.ResponseWriter, err error, logMsg string) {
	var nf *store.ErrNotFound
	switch {
	case errors.Is(err, kbuser.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access to knowledgebase denied")
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, "knowledgebase not found")
	default:
		log.Error().Err(err).Msg(logMsg)
		respondError(w, http.StatusInternalServerError, logMsg)
	}
}

// ListKnowledgebases returns the team knowledgebases the user can
// reach.
func (h *Handlers) ListKnowledgebases(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user id is empty")
		return
	}

	list, err := h.KBUser.ListForUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("knowledgebase listing failed")
		respondError(w, http.StatusInternalServerError, "failed to list knowledgebases")
		return
	}
	respondData(w, map[string]any{"list": list, "total": len(list)}, "knowledgebases fetched")
}

// GetKnowledgebase returns one knowledgebase with the user's role.
func (h *Handlers) GetKnowledgebase(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user id is empty")
		return
	}

	detail, err := h.KBUser.GetDetail(r.Context(), userID, chi.URLParam(r, "kbId"))
	if err != nil {
		respondKBError(w, err, "failed to fetch knowledgebase detail")
		return
	}
	respondData(w, detail, "knowledgebase detail fetched")
}

// ListKnowledgebaseDocuments returns one page of a knowledgebase's
// documents.
func (h *Handlers) ListKnowledgebaseDocuments(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user id is empty")
		return
	}
	page, size, name := pageParams(r)

	docs, err := h.KBUser.ListDocuments(r.Context(), userID, chi.URLParam(r, "kbId"), name, page, size)
	if err != nil {
		respondKBError(w, err, "failed to list documents")
		return
	}
	respondData(w, docs, "documents fetched")
}

// PersonalDocuments finds or creates the personal knowledgebase and
// returns its documents.
func (h *Handlers) PersonalDocuments(w http.ResponseWriter, r *http.Request) {
	claims := pkgmw.GetIdentity(r.Context())
	if claims == nil || claims.Sub == "" {
		respondError(w, http.StatusBadRequest, "user id is empty")
		return
	}
	page, size, name := pageParams(r)

	result, err := h.KBUser.GetOrCreatePersonal(r.Context(), claims, name, page, size)
	if err != nil {
		var perr *kbuser.ProvisionError
		if errors.As(err, &perr) {
			log.Error().Err(err).Msg("personal knowledgebase provisioning failed")
			respondError(w, http.StatusInternalServerError, "failed to provision personal knowledgebase")
			return
		}
		respondKBError(w, err, "failed to fetch personal documents")
		return
	}
	respondData(w, result, "personal documents fetched")
}
