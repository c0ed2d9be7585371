package middleware

import (
	"net/http"

	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/internal/store"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
)

// Sessions binds a per-browser session to every request. A missing or
// empty cookie mints a fresh session id.
type Sessions struct {
	store session.Store
}

func NewSessions(s session.Store) *Sessions {
	return &Sessions{store: s}
}

// Handler reads the session cookie, sets it when absent and stores the
// bound session handle in the request context.
func (s *Sessions) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(session.CookieName); err == nil {
			sid = c.Value
		}
		if sid == "" {
			sid = store.NewRowID()
			http.SetCookie(w, &http.Cookie{
				Name:     session.CookieName,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		sess := session.New(s.store, sid)
		next.ServeHTTP(w, r.WithContext(pkgmw.SetSession(r.Context(), sess)))
	})
}
