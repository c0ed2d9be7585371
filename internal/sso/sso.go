// Package sso implements the relying-party side of the SSO sign-in:
// authorization-code + PKCE against an external OpenID Connect
// provider, with all flow state (state, nonce, verifier, tokens) held
// in the per-browser session store.
//
// A Client is cheap and request-scoped: the Factory binds one to each
// request's session, so no process-wide mutable auth state exists.
package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/pkg/models"
)

// ErrNotAuthenticated is returned when claims are requested for a
// session without a valid token set.
var ErrNotAuthenticated = errors.New("not authenticated")

// ExchangeError wraps failures of the provider round trip: code
// exchange rejections, state/nonce mismatches and network errors.
type ExchangeError struct {
	Op  string
	Err error
}

func (e *ExchangeError) Error() string {
	if e.Err == nil {
		return "sso " + e.Op + " failed"
	}
	return "sso " + e.Op + ": " + e.Err.Error()
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func exchangeErr(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Err: err}
}

// exchangeTimeout bounds every provider network round trip.
const exchangeTimeout = 15 * time.Second

// Session keys used by the client. All values are strings; expiry is
// unix seconds.
const (
	keyState       = "sso.state"
	keyNonce       = "sso.nonce"
	keyVerifier    = "sso.verifier"
	keyRedirectURI = "sso.redirect_uri"
	keyIDToken     = "sso.id_token"
	keyAccessToken = "sso.access_token"
	keyRefresh     = "sso.refresh_token"
	keyExpiresAt   = "sso.expires_at"
	keyClaims      = "sso.claims"
)

// TokenSet is the provider's response to a successful code exchange.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Flow is the provider-facing half of the client: URL construction,
// code exchange and token verification. The production implementation
// wraps golang.org/x/oauth2 plus OIDC discovery; tests substitute a
// fake.
type Flow interface {
	AuthCodeURL(ctx context.Context, redirectURI, state, nonce, verifier string) (string, error)
	Exchange(ctx context.Context, code, redirectURI, verifier string) (*TokenSet, error)
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*models.IdentityClaims, error)
	EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, error)
}

// Factory builds request-scoped clients over a shared flow. The flow
// caches only configuration-derived state (provider discovery), never
// per-session state.
type Factory struct {
	cfg  config.SSOConfig
	flow Flow
}

// NewFactory creates a factory using OIDC discovery against
// cfg.Endpoint.
func NewFactory(cfg config.SSOConfig) *Factory {
	return &Factory{cfg: cfg, flow: newOIDCFlow(cfg)}
}

// NewFactoryWithFlow creates a factory with an explicit flow. Used by
// tests.
func NewFactoryWithFlow(cfg config.SSOConfig, flow Flow) *Factory {
	return &Factory{cfg: cfg, flow: flow}
}

// Client binds the factory's flow to one request's session.
func (f *Factory) Client(sess *session.Session) *Client {
	return &Client{flow: f.flow, sess: sess}
}

// Client drives the sign-in/callback/sign-out sequence for a single
// session.
type Client struct {
	flow Flow
	sess *session.Session
}

// SignInURL begins a sign-in: it stores fresh state, nonce and PKCE
// verifier in the session and returns the provider authorization URL
// the user-agent must be redirected to.
func (c *Client) SignInURL(ctx context.Context, redirectURI string) (string, error) {
	state, err := randomToken()
	if err != nil {
		return "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	verifier, err := randomToken()
	if err != nil {
		return "", err
	}

	// Flow material must be in the session before the redirect leaves,
	// or the callback cannot validate the response.
	for key, value := range map[string]string{
		keyState:       state,
		keyNonce:       nonce,
		keyVerifier:    verifier,
		keyRedirectURI: redirectURI,
	} {
		if err := c.sess.Set(ctx, key, value); err != nil {
			return "", fmt.Errorf("store sign-in state: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	return c.flow.AuthCodeURL(ctx, redirectURI, state, nonce, verifier)
}

// HandleCallback consumes the provider's authorization response. On
// success the session is marked authenticated and holds the token set.
// Replaying an exhausted callback fails with an ExchangeError and
// leaves any prior authenticated state untouched.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return exchangeErr("callback", err)
	}
	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		return exchangeErr("callback", fmt.Errorf("provider returned %s: %s", errCode, q.Get("error_description")))
	}

	storedState, err := c.sess.Get(ctx, keyState)
	if err != nil {
		return exchangeErr("callback", errors.New("no sign-in in progress"))
	}
	if state := q.Get("state"); state != storedState {
		return exchangeErr("callback", errors.New("state mismatch"))
	}
	code := q.Get("code")
	if code == "" {
		return exchangeErr("callback", errors.New("authorization code missing"))
	}

	nonce, _ := c.sess.Get(ctx, keyNonce)
	verifier, _ := c.sess.Get(ctx, keyVerifier)
	redirectURI, _ := c.sess.Get(ctx, keyRedirectURI)

	exchangeCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	tokens, err := c.flow.Exchange(exchangeCtx, code, redirectURI, verifier)
	if err != nil {
		// Leave session state as-is: a failed exchange must not corrupt
		// a previously authenticated session.
		return exchangeErr("exchange", err)
	}

	claims, err := c.flow.VerifyIDToken(exchangeCtx, tokens.IDToken, nonce)
	if err != nil {
		return exchangeErr("verify", err)
	}
	rawClaims, err := json.Marshal(claims)
	if err != nil {
		return exchangeErr("verify", err)
	}

	for key, value := range map[string]string{
		keyIDToken:     tokens.IDToken,
		keyAccessToken: tokens.AccessToken,
		keyRefresh:     tokens.RefreshToken,
		keyExpiresAt:   strconv.FormatInt(tokens.ExpiresAt.Unix(), 10),
		keyClaims:      string(rawClaims),
	} {
		if err := c.sess.Set(ctx, key, value); err != nil {
			return fmt.Errorf("store token set: %w", err)
		}
	}

	// Flow material is single-use: drop it so a replayed callback
	// cannot match.
	for _, key := range []string{keyState, keyNonce, keyVerifier, keyRedirectURI} {
		if err := c.sess.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear sign-in state: %w", err)
		}
	}
	return nil
}

// IsAuthenticated reports whether the session holds a non-expired
// token set. Pure read of session state.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	if _, err := c.sess.Get(ctx, keyIDToken); err != nil {
		return false
	}
	raw, err := c.sess.Get(ctx, keyExpiresAt)
	if err != nil {
		return false
	}
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() < exp
}

// IDTokenClaims returns the claims stored at callback time. Fails with
// ErrNotAuthenticated when IsAuthenticated is false.
func (c *Client) IDTokenClaims(ctx context.Context) (*models.IdentityClaims, error) {
	if !c.IsAuthenticated(ctx) {
		return nil, ErrNotAuthenticated
	}
	raw, err := c.sess.Get(ctx, keyClaims)
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	var claims models.IdentityClaims
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return &claims, nil
}

// SignOutURL clears the session's token set and returns the provider
// logout URL to redirect the user-agent to. Signing out an already
// signed-out session is a no-op that still yields a valid URL.
func (c *Client) SignOutURL(ctx context.Context, postLogoutRedirectURI string) (string, error) {
	idTokenHint, _ := c.sess.Get(ctx, keyIDToken)

	for _, key := range []string{keyIDToken, keyAccessToken, keyRefresh, keyExpiresAt, keyClaims} {
		if err := c.sess.Delete(ctx, key); err != nil {
			return "", fmt.Errorf("clear token set: %w", err)
		}
	}
	return c.flow.EndSessionURL(idTokenHint, postLogoutRedirectURI)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
