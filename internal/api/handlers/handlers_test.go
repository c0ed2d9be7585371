package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aiboxcloud/management/internal/api/handlers"
	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/store"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
	"github.com/aiboxcloud/management/pkg/models"
)

func newTestHandlers(t *testing.T) (*handlers.Handlers, *store.MemoryStore) {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			AdminUsername: "admin",
			AdminPassword: "12345678",
			JWTSecret:     "test-secret",
		},
	}
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	factory := sso.NewFactoryWithFlow(config.SSOConfig{AppID: "app"}, nil)
	return handlers.New(cfg, s, factory, nil), s
}

// testRouter mounts the knowledgebase-user handlers behind a stub
// identity so URL parameters resolve the way they do in production.
func testRouter(h *handlers.Handlers, claims *models.IdentityClaims) http.Handler {
	withIdentity := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r.WithContext(pkgmw.SetIdentity(r.Context(), claims)))
		}
	}
	r := chi.NewRouter()
	r.Get("/knowledgebases", withIdentity(h.ListKnowledgebases))
	r.Get("/knowledgebases/{kbId}", withIdentity(h.GetKnowledgebase))
	r.Get("/knowledgebases/{kbId}/documents", withIdentity(h.ListKnowledgebaseDocuments))
	r.Get("/personal-documents", withIdentity(h.PersonalDocuments))
	return r
}

type wireEnvelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) wireEnvelope {
	t.Helper()
	var env wireEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func seedKB(s *store.MemoryStore, kbID, userID string, scope models.Scope) {
	s.PutKnowledgebase(&models.Knowledgebase{
		ID:         kbID,
		Name:       "kb-" + kbID,
		Permission: models.PermissionTeam,
		Status:     models.KBStatusActive,
	})
	s.PutRole(&models.KnowledgebaseRole{
		ID:          "role-" + userID + "-" + kbID,
		KnowledgeID: kbID,
		UserID:      userID,
		Scope:       scope,
	})
}

func TestLogin(t *testing.T) {
	h, _ := newTestHandlers(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.Login(rec, req)
		return rec
	}

	rec := post(`{"username":"admin","password":"12345678"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Code != 0 || env.Message != "login successful" {
		t.Errorf("envelope = %+v, want code 0 / login successful", env)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Errorf("login data = %s, want a token", env.Data)
	}

	rec = post(`{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong password: status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "password erroneous" {
		t.Errorf("wrong password message = %q, want password erroneous", env.Message)
	}

	rec = post(`{"username":"nobody","password":"12345678"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown user: status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "username not found" {
		t.Errorf("unknown user message = %q, want username not found", env.Message)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledgebase-user/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Code != 0 {
		t.Errorf("code = %d, want 0", env.Code)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil || data["status"] != "OK" {
		t.Errorf("data = %s, want status OK", env.Data)
	}
}

func TestListKnowledgebases(t *testing.T) {
	h, s := newTestHandlers(t)
	seedKB(s, "kb1", "u1", models.ScopeReadWrite)
	seedKB(s, "kb2", "u1", models.ScopeReadOnly)
	seedKB(s, "kb3", "other", models.ScopeReadWrite)
	router := testRouter(h, &models.IdentityClaims{Sub: "u1", Username: "alice"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledgebases", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data struct {
		List  []models.KnowledgebaseSummary `json:"list"`
		Total int                           `json:"total"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Total != 2 || len(data.List) != 2 {
		t.Errorf("total = %d, list = %d, want 2 and 2", data.Total, len(data.List))
	}
}

func TestGetKnowledgebaseAccessMapping(t *testing.T) {
	h, s := newTestHandlers(t)
	seedKB(s, "kb1", "other", models.ScopeReadWrite)
	router := testRouter(h, &models.IdentityClaims{Sub: "u1"})

	// No role on an existing knowledgebase.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledgebases/kb1", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("denied kb: status = %d, want 403", rec.Code)
	}

	// Knowledgebase missing entirely.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledgebases/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing kb: status = %d, want 404", rec.Code)
	}
}

func TestListKnowledgebaseDocuments(t *testing.T) {
	h, s := newTestHandlers(t)
	seedKB(s, "kb1", "u1", models.ScopeReadOnly)
	for i := 0; i < 15; i++ {
		s.PutDocument(&models.Document{
			ID:         fmt.Sprintf("d%02d", i),
			KbID:       "kb1",
			Name:       fmt.Sprintf("doc-%02d.pdf", i),
			CreateTime: int64(1000 + i),
			Status:     models.DocStatusDone,
		})
	}
	router := testRouter(h, &models.IdentityClaims{Sub: "u1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledgebases/kb1/documents?currentPage=2&size=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var page models.DocumentPage
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 15 {
		t.Errorf("total = %d, want 15", page.Total)
	}
	if len(page.List) != 5 {
		t.Errorf("page 2 size = %d, want 5", len(page.List))
	}
}

func TestPersonalDocuments(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := testRouter(h, &models.IdentityClaims{Sub: "u1", Username: "alice"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personal-documents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var first models.PersonalDocuments
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &first); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !first.IsNewCreated {
		t.Error("first call: is_new_created = false, want true")
	}
	if first.KbID == "" {
		t.Error("first call returned empty kb id")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personal-documents", nil))
	var second models.PersonalDocuments
	env = decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &second); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if second.IsNewCreated {
		t.Error("second call: is_new_created = true, want false")
	}
	if second.KbID != first.KbID {
		t.Errorf("kb id changed across calls: %q then %q", first.KbID, second.KbID)
	}
}

func TestUserAdministration(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := chi.NewRouter()
	r.Get("/users/", h.ListUsers)
	r.Post("/users/", h.CreateUser)
	r.Put("/users/{userId}", h.UpdateUser)
	r.Delete("/users/{userId}", h.DeleteUser)

	create := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/users/", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := create(`{"username":"alice","email":"alice@example.com","password":"s3cret!!"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d, want 200", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &created); err != nil || created.ID == "" {
		t.Fatalf("create data = %s, want an id", env.Data)
	}

	// Duplicate email is a validation failure, not a server error.
	if rec := create(`{"username":"alice2","email":"alice@example.com","password":"s3cret!!"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate email: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/?username=ali", nil))
	var listed struct {
		List  []models.UserSummary `json:"list"`
		Total int64                `json:"total"`
	}
	env = decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Total != 1 || len(listed.List) != 1 || listed.List[0].Username != "alice" {
		t.Errorf("list = %+v, want just alice", listed)
	}

	req := httptest.NewRequest(http.MethodPut, "/users/"+created.ID, bytes.NewBufferString(`{"username":"alice-renamed"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/users/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/users/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete: status = %d, want 404", rec.Code)
	}
}

