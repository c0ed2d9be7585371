// Package middleware holds the context accessors shared between the
// HTTP middleware and the handlers: the request's session handle, the
// SSO identity claims and the admin username from the token scheme.
package middleware

import (
	"context"

	"github.com/aiboxcloud/management/internal/session"
	"github.com/aiboxcloud/management/pkg/models"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	sessionKey  contextKey = "session"
	adminKey    contextKey = "admin"
)

// SetIdentity stores the authenticated identity claims in the context.
// Called by the session auth middleware after resolving the session.
func SetIdentity(ctx context.Context, claims *models.IdentityClaims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, claims)
}

// GetIdentity retrieves the authenticated identity claims, or nil for
// an unauthenticated request.
func GetIdentity(ctx context.Context) *models.IdentityClaims {
	if v, ok := ctx.Value(identityKey).(*models.IdentityClaims); ok {
		return v
	}
	return nil
}

// SetSession stores the request's session handle in the context.
func SetSession(ctx context.Context, sess *session.Session) context.Context {
	if sess == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sess)
}

// GetSession retrieves the request's session handle, or nil when the
// session middleware did not run.
func GetSession(ctx context.Context) *session.Session {
	if v, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return v
	}
	return nil
}

// SetAdminUser stores the username verified by the bearer-token scheme.
func SetAdminUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, adminKey, username)
}

// GetAdminUser retrieves the bearer-token username, empty when the
// request did not pass the token gate.
func GetAdminUser(ctx context.Context) string {
	if v, ok := ctx.Value(adminKey).(string); ok {
		return v
	}
	return ""
}
