package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/pkg/models"
)

// oidcFlow is the production Flow: OIDC discovery against the provider
// issuer plus the oauth2 authorization-code grant with S256 PKCE.
type oidcFlow struct {
	cfg config.SSOConfig

	mu         sync.Mutex
	provider   *oidc.Provider
	endSession string
}

func newOIDCFlow(cfg config.SSOConfig) *oidcFlow {
	return &oidcFlow{cfg: cfg}
}

// discover performs issuer discovery once and caches the result.
func (f *oidcFlow) discover(ctx context.Context) (*oidc.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider != nil {
		return f.provider, nil
	}
	provider, err := oidc.NewProvider(ctx, f.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("discover issuer %s: %w", f.cfg.Endpoint, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err == nil && extra.EndSessionEndpoint != "" {
		f.endSession = extra.EndSessionEndpoint
	} else {
		// Logto-style providers serve logout under the issuer path.
		f.endSession = strings.TrimSuffix(f.cfg.Endpoint, "/") + "/oidc/session/end"
	}
	f.provider = provider
	return provider, nil
}

func (f *oidcFlow) oauthConfig(provider *oidc.Provider, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.AppID,
		ClientSecret: f.cfg.AppSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURI,
		Scopes:       f.cfg.Scopes,
	}
}

func (f *oidcFlow) AuthCodeURL(ctx context.Context, redirectURI, state, nonce, verifier string) (string, error) {
	provider, err := f.discover(ctx)
	if err != nil {
		return "", err
	}
	conf := f.oauthConfig(provider, redirectURI)
	return conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	), nil
}

func (f *oidcFlow) Exchange(ctx context.Context, code, redirectURI, verifier string) (*TokenSet, error) {
	provider, err := f.discover(ctx)
	if err != nil {
		return nil, err
	}
	conf := f.oauthConfig(provider, redirectURI)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response missing id_token")
	}
	return &TokenSet{
		IDToken:      rawIDToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func (f *oidcFlow) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*models.IdentityClaims, error) {
	provider, err := f.discover(ctx)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: f.cfg.AppID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("nonce mismatch")
	}
	var claims models.IdentityClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}
	if claims.Sub == "" {
		claims.Sub = idToken.Subject
	}
	return &claims, nil
}

func (f *oidcFlow) EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, error) {
	f.mu.Lock()
	endSession := f.endSession
	f.mu.Unlock()
	if endSession == "" {
		endSession = strings.TrimSuffix(f.cfg.Endpoint, "/") + "/oidc/session/end"
	}

	q := url.Values{}
	q.Set("client_id", f.cfg.AppID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	return endSession + "?" + q.Encode(), nil
}
