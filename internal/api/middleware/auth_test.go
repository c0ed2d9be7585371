package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/aiboxcloud/management/internal/api/middleware"
	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/token"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
	"github.com/aiboxcloud/management/pkg/models"
)

type stubFlow struct {
	validCode string
	claims    models.IdentityClaims
}

func (f *stubFlow) AuthCodeURL(_ context.Context, redirectURI, state, nonce, verifier string) (string, error) {
	q := url.Values{}
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return "https://sso.test/oidc/auth?" + q.Encode(), nil
}

func (f *stubFlow) Exchange(_ context.Context, code, _, _ string) (*sso.TokenSet, error) {
	if code != f.validCode {
		return nil, errors.New("invalid grant")
	}
	return &sso.TokenSet{
		IDToken:     "id-token",
		AccessToken: "access-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (f *stubFlow) VerifyIDToken(_ context.Context, rawIDToken, _ string) (*models.IdentityClaims, error) {
	if rawIDToken != "id-token" {
		return nil, errors.New("bad token")
	}
	claims := f.claims
	return &claims, nil
}

func (f *stubFlow) EndSessionURL(_, postLogoutRedirectURI string) (string, error) {
	return "https://sso.test/oidc/session/end?post_logout_redirect_uri=" + url.QueryEscape(postLogoutRedirectURI), nil
}

// signedInSession walks the fake flow end to end and returns a session
// holding valid tokens.
func signedInSession(t *testing.T, factory *sso.Factory) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess := session.New(session.NewMemoryStore(), "sid-1")
	client := factory.Client(sess)

	authURL, err := client.SignInURL(ctx, "https://app.test/callback")
	if err != nil {
		t.Fatalf("SignInURL: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	state := parsed.Query().Get("state")
	cb := "https://app.test/callback?code=good-code&state=" + url.QueryEscape(state)
	if err := client.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	return sess
}

func newGate(t *testing.T) (*middleware.SessionAuth, *sso.Factory) {
	t.Helper()
	flow := &stubFlow{
		validCode: "good-code",
		claims:    models.IdentityClaims{Sub: "user-1", Username: "alice"},
	}
	factory := sso.NewFactoryWithFlow(config.SSOConfig{AppID: "app"}, flow)
	return middleware.NewSessionAuth(factory), factory
}

func TestGateRejectsMissingSession(t *testing.T) {
	gate, _ := newGate(t)
	h := gate.Gate(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a session")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/user-info", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != 1 || body.Message != "not authenticated" {
		t.Errorf("body = %+v, want code 1 / not authenticated", body)
	}
}

func TestGateRejectsUnauthenticatedSession(t *testing.T) {
	gate, _ := newGate(t)
	h := gate.Gate(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without authentication")
	}))

	sess := session.New(session.NewMemoryStore(), "sid-2")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/user-info", nil)
	req = req.WithContext(pkgmw.SetSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGateRedirectsBrowserRoutes(t *testing.T) {
	gate, _ := newGate(t)
	h := gate.Gate(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != middleware.SignInPath {
		t.Errorf("Location = %q, want %q", got, middleware.SignInPath)
	}
}

func TestGatePassesIdentity(t *testing.T) {
	gate, factory := newGate(t)
	sess := signedInSession(t, factory)

	var got *models.IdentityClaims
	h := gate.Gate(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = pkgmw.GetIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/user-info", nil)
	req = req.WithContext(pkgmw.SetSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Sub != "user-1" || got.Username != "alice" {
		t.Errorf("identity = %+v, want user-1/alice", got)
	}
}

func TestTokenAuth(t *testing.T) {
	issuer := token.NewIssuer(config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "12345678",
		JWTSecret:     "test-secret",
	})
	auth := middleware.NewTokenAuth(issuer)

	var admin string
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = pkgmw.GetAdminUser(r.Context())
	}))

	// No Authorization header
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: status = %d, want 401", rec.Code)
	}

	// Garbage token
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", rec.Code)
	}

	// Valid token
	signed, err := issuer.Issue("admin", "12345678")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if admin != "admin" {
		t.Errorf("admin user = %q, want admin", admin)
	}
}
