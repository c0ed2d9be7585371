// Package session provides the per-browser-session key/value store
// backing the SSO flow. The store is external state (database-backed in
// production); each request binds a Session handle scoped to the opaque
// session id carried in the cookie.
package session

import (
	"context"
	"errors"
)

// CookieName carries the opaque session id.
const CookieName = "management_session"

// ErrNotFound is returned by Get when a key is absent for the session.
var ErrNotFound = errors.New("session key not found")

// Store is the backing storage for all sessions. Values are opaque
// strings; keys are namespaced by the session id, with no
// cross-session visibility.
type Store interface {
	Get(ctx context.Context, sid, key string) (string, error)
	Set(ctx context.Context, sid, key, value string) error
	Delete(ctx context.Context, sid, key string) error
}

// Session is a request-scoped handle bound to one session id.
type Session struct {
	store Store
	sid   string
}

// New binds a handle to the given session id.
func New(store Store, sid string) *Session {
	return &Session{store: store, sid: sid}
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.sid }

// Get returns the value for key, or ErrNotFound.
func (s *Session) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.sid, key)
}

// Set stores value under key for this session.
func (s *Session) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.sid, key, value)
}

// Delete removes key for this session. Deleting an absent key is a
// no-op.
func (s *Session) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.sid, key)
}
