package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aiboxcloud/management/internal/api/middleware"
	"github.com/aiboxcloud/management/internal/session"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
)

func TestSessionsMintsCookie(t *testing.T) {
	sessions := middleware.NewSessions(session.NewMemoryStore())

	var bound *session.Session
	h := sessions.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bound = pkgmw.GetSession(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if bound == nil {
		t.Fatal("no session bound to request context")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != session.CookieName {
		t.Fatalf("cookies = %v, want one %s cookie", cookies, session.CookieName)
	}
	if cookies[0].Value != bound.ID() {
		t.Errorf("cookie sid = %q, bound sid = %q", cookies[0].Value, bound.ID())
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
}

func TestSessionsReusesCookie(t *testing.T) {
	sessions := middleware.NewSessions(session.NewMemoryStore())

	var bound *session.Session
	h := sessions.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bound = pkgmw.GetSession(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "existing-sid"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if bound == nil || bound.ID() != "existing-sid" {
		t.Fatalf("bound session = %v, want existing-sid", bound)
	}
	if got := len(rec.Result().Cookies()); got != 0 {
		t.Errorf("minted %d cookies for a request that already had one", got)
	}
}
