package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/internal/sso"
	"github.com/aiboxcloud/management/internal/token"
	pkgmw "github.com/aiboxcloud/management/pkg/middleware"
)

// SignInPath is where browser-facing routes redirect unauthenticated
// requests.
const SignInPath = "/api/v1/auth/sign-in"

// SessionAuth gates routes behind the SSO session. API routes answer
// 401; browser routes redirect to the sign-in flow.
type SessionAuth struct {
	factory *sso.Factory
}

func NewSessionAuth(factory *sso.Factory) *SessionAuth {
	return &SessionAuth{factory: factory}
}

// Gate returns the middleware. shouldRedirect selects the 302 behavior
// over the 401 envelope. On success the identity claims land in the
// request context; the session itself is never mutated here.
func (a *SessionAuth) Gate(shouldRedirect bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := pkgmw.GetSession(r.Context())
			if sess == nil {
				unauthenticated(w, r, shouldRedirect)
				return
			}
			client := a.factory.Client(sess)
			if !client.IsAuthenticated(r.Context()) {
				unauthenticated(w, r, shouldRedirect)
				return
			}
			claims, err := client.IDTokenClaims(r.Context())
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("claims resolution failed")
				unauthenticated(w, r, shouldRedirect)
				return
			}
			next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), claims)))
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request, shouldRedirect bool) {
	if shouldRedirect {
		http.Redirect(w, r, SignInPath, http.StatusFound)
		return
	}
	respondCode(w, http.StatusUnauthorized, "not authenticated")
}

// TokenAuth gates the admin routes behind the local bearer token.
type TokenAuth struct {
	issuer *token.Issuer
}

func NewTokenAuth(issuer *token.Issuer) *TokenAuth {
	return &TokenAuth{issuer: issuer}
}

// Handler verifies the Authorization header and stores the verified
// username in the request context.
func (a *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondCode(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := a.issuer.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondCode(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetAdminUser(r.Context(), username)))
	})
}

func respondCode(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": 1, "message": message})
}
