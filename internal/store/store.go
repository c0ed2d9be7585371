// Package store provides the storage interface and implementations for
// the management backend: knowledgebase access rows, documents and the
// user/tenant tables. Handlers and services depend on the interface so
// the in-memory implementation can back tests.
package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aiboxcloud/management/pkg/models"
)

// NewRowID returns a 32-char hex id, the format every id column uses.
func NewRowID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Store is the primary storage interface.
type Store interface {
	KnowledgebaseStore
	DocumentStore
	UserStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Knowledgebase Store ─────────────────────────────────────

type KnowledgebaseStore interface {
	// GetKnowledgebase fetches one knowledgebase row.
	GetKnowledgebase(ctx context.Context, kbID string) (*models.Knowledgebase, error)

	// GetRoleGrant resolves the role a user holds on a knowledgebase.
	// ErrNotFound when no role row exists for the pair.
	GetRoleGrant(ctx context.Context, userID, kbID string) (*models.RoleGrant, error)

	// ListTeamKnowledgebases returns the team-permission knowledgebases
	// the user holds a role on, joined with that role.
	ListTeamKnowledgebases(ctx context.Context, userID string) ([]models.KnowledgebaseSummary, error)

	// FindPersonalKnowledgebase returns the id of the user's personal
	// knowledgebase: permission "me", reached via a read-write role.
	// ErrNotFound when the user has none.
	FindPersonalKnowledgebase(ctx context.Context, userID string) (string, error)

	// CreatePersonalKnowledgebase atomically inserts the knowledgebase
	// and its owning role. Concurrent calls for the same user are
	// serialized; when another call won the race the existing id is
	// returned with created=false and nothing is written.
	CreatePersonalKnowledgebase(ctx context.Context, kb *models.Knowledgebase, role *models.KnowledgebaseRole) (kbID string, created bool, err error)

	// DefaultEmbeddingModel returns the earliest configured
	// embedding-type model as "name@factory". ErrNotFound when no
	// embedding model is configured anywhere.
	DefaultEmbeddingModel(ctx context.Context) (string, error)
}

// ── Document Store ──────────────────────────────────────────

type DocumentStore interface {
	// ListDocuments returns one page of a knowledgebase's documents,
	// newest first, plus the total count before paging. A non-empty
	// name filters by substring match.
	ListDocuments(ctx context.Context, kbID, name string, limit, offset int) ([]models.Document, int64, error)
}

// ── User Store ──────────────────────────────────────────────

type UserStore interface {
	// ListUsers returns user summaries, optionally filtered by
	// username/email substring.
	ListUsers(ctx context.Context, username, email string) ([]models.UserSummary, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// CreateUser inserts the user with its tenant, owner membership,
	// membership in the earliest user's team and a copy of that team's
	// model configurations, all in one transaction.
	CreateUser(ctx context.Context, user *models.User) error

	// UpdateUserNickname renames a user.
	UpdateUserNickname(ctx context.Context, id, nickname string) error

	// DeleteUser removes the user and its tenant, memberships and
	// model configurations in one transaction.
	DeleteUser(ctx context.Context, id string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
