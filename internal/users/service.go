// Package users implements the admin account CRUD: paginated listing,
// creation with team/model-config inheritance, rename and cascading
// delete.
package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/aiboxcloud/management/internal/store"
	"github.com/aiboxcloud/management/pkg/models"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidInput = errors.New("username, email and password are required")
)

// Service wraps the user store with validation and password hashing.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// CreateParams are the fields accepted for a new account.
type CreateParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// List returns one page of user summaries plus the total match count.
// page is 1-indexed; username/email filter by substring.
func (s *Service) List(ctx context.Context, page, size int, username, email string) ([]models.UserSummary, int64, error) {
	all, err := s.store.ListUsers(ctx, username, email)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	total := int64(len(all))

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	offset := (page - 1) * size
	if offset >= len(all) {
		return []models.UserSummary{}, total, nil
	}
	end := offset + size
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// Create registers a new account. The store layer attaches the tenant,
// the owner membership and the inherited team/model configuration in
// one transaction.
func (s *Service) Create(ctx context.Context, params CreateParams) (string, error) {
	if params.Username == "" || params.Email == "" || params.Password == "" {
		return "", ErrInvalidInput
	}

	if _, err := s.store.GetUserByEmail(ctx, params.Email); err == nil {
		return "", ErrEmailTaken
	} else {
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			return "", fmt.Errorf("check email: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	now := models.Now()
	user := &models.User{
		ID:           store.NewRowID(),
		Nickname:     params.Username,
		Password:     string(hash),
		Email:        params.Email,
		Language:     "Chinese",
		ColorSchema:  "Bright",
		Timezone:     "UTC+8 Asia/Shanghai",
		LoginChannel: "password",
		CreateTime:   now.Millis,
		CreateDate:   now.Date,
		UpdateTime:   now.Millis,
		UpdateDate:   now.Date,
		Status:       1,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return user.ID, nil
}

// Rename updates the account's display name.
func (s *Service) Rename(ctx context.Context, id, username string) error {
	if username == "" {
		return ErrInvalidInput
	}
	return s.store.UpdateUserNickname(ctx, id, username)
}

// Delete removes the account and everything hanging off it.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteUser(ctx, id)
}
