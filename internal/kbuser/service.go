// Package kbuser resolves a user's knowledgebase access and provisions
// the personal knowledgebase: listing, detail, scoped document pages
// and the find-or-create path for the permission="me" knowledgebase.
package kbuser

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/internal/store"
	"github.com/aiboxcloud/management/pkg/models"
)

// ErrAccessDenied is returned when the knowledgebase exists but the
// user holds no role on it. Distinct from a not-found so handlers can
// answer 403 vs 404.
var ErrAccessDenied = errors.New("access to knowledgebase denied")

// ProvisionError wraps failures of the personal-knowledgebase creation
// transaction.
type ProvisionError struct {
	UserID string
	Err    error
}

func (e *ProvisionError) Error() string {
	return "provision personal knowledgebase for " + e.UserID + ": " + e.Err.Error()
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Page defaults mirror the HTTP query defaults.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Service answers knowledgebase queries scoped to one user and runs
// the personal-knowledgebase provisioner.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// ResolveAccess returns the role the user holds on the knowledgebase.
// ErrAccessDenied when the knowledgebase exists without a role for the
// user; store.ErrNotFound when the knowledgebase does not exist at all.
func (s *Service) ResolveAccess(ctx context.Context, userID, kbID string) (*models.RoleGrant, error) {
	if userID == "" {
		return nil, errors.New("user id is empty")
	}
	grant, err := s.store.GetRoleGrant(ctx, userID, kbID)
	if err == nil {
		return grant, nil
	}
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, fmt.Errorf("resolve access: %w", err)
	}
	// No role row. Decide between denied and missing.
	if _, err := s.store.GetKnowledgebase(ctx, kbID); err != nil {
		return nil, err
	}
	return nil, ErrAccessDenied
}

// ListForUser returns the team knowledgebases the user can reach, each
// joined with the user's role and scope label. Personal knowledgebases
// never appear here.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.KnowledgebaseSummary, error) {
	if userID == "" {
		return nil, errors.New("user id is empty")
	}
	return s.store.ListTeamKnowledgebases(ctx, userID)
}

// GetDetail returns one knowledgebase with the user's role attached,
// after the access check.
func (s *Service) GetDetail(ctx context.Context, userID, kbID string) (*models.KnowledgebaseDetail, error) {
	grant, err := s.ResolveAccess(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	kb, err := s.store.GetKnowledgebase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	return &models.KnowledgebaseDetail{
		KnowledgebaseSummary: models.KnowledgebaseSummary{
			KbID:        kb.ID,
			Name:        kb.Name,
			Description: kb.Description,
			Language:    kb.Language,
			CreateDate:  kb.CreateDate,
			UpdateDate:  kb.UpdateDate,
			DocNum:      kb.DocNum,
			TokenNum:    kb.TokenNum,
			ChunkNum:    kb.ChunkNum,
			Scope:       grant.Scope,
			ScopeName:   grant.Scope.Name(),
			RoleID:      grant.RoleID,
		},
		SimilarityThreshold:    kb.SimilarityThreshold,
		VectorSimilarityWeight: kb.VectorSimilarityWeight,
		ParserID:               kb.ParserID,
		ParserConfig:           kb.ParserConfig,
	}, nil
}

// ListDocuments returns one page of the knowledgebase's documents after
// the access check. page is 1-indexed; name filters by substring.
func (s *Service) ListDocuments(ctx context.Context, userID, kbID, name string, page, size int) (*models.DocumentPage, error) {
	if _, err := s.ResolveAccess(ctx, userID, kbID); err != nil {
		return nil, err
	}
	return s.listDocuments(ctx, kbID, name, page, size)
}

func (s *Service) listDocuments(ctx context.Context, kbID, name string, page, size int) (*models.DocumentPage, error) {
	page, size = clampPage(page, size)
	docs, total, err := s.store.ListDocuments(ctx, kbID, name, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	rows := make([]models.DocumentRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, models.NewDocumentRow(d))
	}
	return &models.DocumentPage{List: rows, Total: total}, nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// GetOrCreatePersonal looks up the user's personal knowledgebase and
// returns its documents; when absent it provisions one atomically and
// returns an empty page with IsNewCreated set. The storage layer
// serializes concurrent provisioning per user, so at most one personal
// knowledgebase ever exists.
func (s *Service) GetOrCreatePersonal(ctx context.Context, identity *models.IdentityClaims, name string, page, size int) (*models.PersonalDocuments, error) {
	if identity == nil || identity.Sub == "" {
		return nil, errors.New("user id is empty")
	}
	userID := identity.Sub

	kbID, err := s.store.FindPersonalKnowledgebase(ctx, userID)
	var nf *store.ErrNotFound
	switch {
	case err == nil:
		page, err := s.listDocuments(ctx, kbID, name, page, size)
		if err != nil {
			return nil, err
		}
		return &models.PersonalDocuments{KbID: kbID, IsNewCreated: false, Documents: *page}, nil
	case !errors.As(err, &nf):
		return nil, fmt.Errorf("find personal knowledgebase: %w", err)
	}

	kb, role := s.buildPersonal(ctx, identity)
	kbID, created, err := s.store.CreatePersonalKnowledgebase(ctx, kb, role)
	if err != nil {
		return nil, &ProvisionError{UserID: userID, Err: err}
	}
	if !created {
		// Lost the race; the winner's knowledgebase may already hold
		// documents.
		page, err := s.listDocuments(ctx, kbID, name, page, size)
		if err != nil {
			return nil, err
		}
		return &models.PersonalDocuments{KbID: kbID, IsNewCreated: false, Documents: *page}, nil
	}
	log.Info().Str("user_id", userID).Str("kb_id", kbID).Msg("personal knowledgebase created")
	return &models.PersonalDocuments{
		KbID:         kbID,
		IsNewCreated: true,
		Documents:    models.DocumentPage{List: []models.DocumentRow{}, Total: 0},
	}, nil
}

// buildPersonal assembles the knowledgebase and owning role rows for a
// fresh personal knowledgebase.
func (s *Service) buildPersonal(ctx context.Context, identity *models.IdentityClaims) (*models.Knowledgebase, *models.KnowledgebaseRole) {
	now := models.Now()
	userID := identity.Sub

	embdID, err := s.store.DefaultEmbeddingModel(ctx)
	if err != nil {
		// Fall back rather than fail: a missing model catalog must not
		// block provisioning.
		embdID = models.DefaultEmbeddingModelID
		log.Warn().Err(err).Str("fallback", embdID).Msg("no embedding model configured")
	}

	display := identity.Username
	if display == "" {
		display = userID
	}

	kbID := store.NewRowID()
	kb := &models.Knowledgebase{
		ID:                     kbID,
		CreateTime:             now.Millis,
		CreateDate:             now.Date,
		UpdateTime:             now.Millis,
		UpdateDate:             now.Date,
		TenantID:               userID,
		Name:                   display + "'s personal knowledgebase",
		Language:               "English",
		Description:            "Personal knowledgebase",
		EmbeddingModelID:       embdID,
		Permission:             models.PermissionMe,
		CreatedBy:              userID,
		SimilarityThreshold:    0.7,
		VectorSimilarityWeight: 0.3,
		ParserID:               "naive",
		ParserConfig:           models.DefaultParserConfig(),
		Status:                 models.KBStatusActive,
	}
	role := &models.KnowledgebaseRole{
		ID:          store.NewRowID(),
		KnowledgeID: kbID,
		UserID:      userID,
		UserName:    identity.Username,
		UserPhone:   identity.PhoneNumber,
		UserEmail:   identity.Email,
		Scope:       models.ScopeReadWrite,
		CreateTime:  now.Millis,
		CreateDate:  now.Date,
		UpdateTime:  now.Millis,
		UpdateDate:  now.Date,
	}
	return kb, role
}
