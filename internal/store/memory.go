// Package store — in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev) and by tests.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aiboxcloud/management/pkg/models"
)

// MemoryStore implements Store with in-memory maps. A single mutex
// guards every map; provisioning relies on that to serialize
// find-or-create per process.
type MemoryStore struct {
	mu          sync.Mutex
	kbs         map[string]*models.Knowledgebase     // key: id
	roles       map[string]*models.KnowledgebaseRole // key: id
	docs        map[string]*models.Document          // key: id
	users       map[string]*models.User              // key: id
	tenants     map[string]*models.Tenant            // key: id
	userTenants map[string]*models.UserTenant        // key: id
	tenantLLMs  []*models.TenantLLM
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kbs:         make(map[string]*models.Knowledgebase),
		roles:       make(map[string]*models.KnowledgebaseRole),
		docs:        make(map[string]*models.Document),
		users:       make(map[string]*models.User),
		tenants:     make(map[string]*models.Tenant),
		userTenants: make(map[string]*models.UserTenant),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error    { return nil }
func (s *MemoryStore) Close() error                      { return nil }
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// ── Seed helpers ────────────────────────────────────────────

// PutKnowledgebase inserts or replaces a knowledgebase row.
func (s *MemoryStore) PutKnowledgebase(kb *models.Knowledgebase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *kb
	s.kbs[kb.ID] = &cp
}

// PutRole inserts or replaces a role row.
func (s *MemoryStore) PutRole(role *models.KnowledgebaseRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *role
	s.roles[role.ID] = &cp
}

// PutDocument inserts or replaces a document row.
func (s *MemoryStore) PutDocument(doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
}

// PutTenantLLM appends a tenant model configuration row.
func (s *MemoryStore) PutTenantLLM(tl *models.TenantLLM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tl
	s.tenantLLMs = append(s.tenantLLMs, &cp)
}

// ── Knowledgebase Store ─────────────────────────────────────

func (s *MemoryStore) GetKnowledgebase(ctx context.Context, kbID string) (*models.Knowledgebase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[kbID]
	if !ok {
		return nil, &ErrNotFound{Entity: "knowledgebase", Key: kbID}
	}
	cp := *kb
	return &cp, nil
}

func (s *MemoryStore) GetRoleGrant(ctx context.Context, userID, kbID string) (*models.RoleGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.UserID == userID && r.KnowledgeID == kbID {
			return &models.RoleGrant{RoleID: r.ID, Scope: models.ParseScope(string(r.Scope))}, nil
		}
	}
	return nil, &ErrNotFound{Entity: "knowledgebase role", Key: userID + ":" + kbID}
}

func (s *MemoryStore) ListTeamKnowledgebases(ctx context.Context, userID string) ([]models.KnowledgebaseSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.KnowledgebaseSummary, 0)
	for _, r := range s.roles {
		if r.UserID != userID {
			continue
		}
		kb, ok := s.kbs[r.KnowledgeID]
		if !ok || kb.Permission != models.PermissionTeam {
			continue
		}
		out = append(out, summaryFor(kb, r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateDate != out[j].CreateDate {
			return out[i].CreateDate > out[j].CreateDate
		}
		return out[i].KbID < out[j].KbID
	})
	return out, nil
}

func summaryFor(kb *models.Knowledgebase, role *models.KnowledgebaseRole) models.KnowledgebaseSummary {
	scope := models.ParseScope(string(role.Scope))
	return models.KnowledgebaseSummary{
		KbID:        kb.ID,
		Name:        kb.Name,
		Description: kb.Description,
		Language:    kb.Language,
		CreateDate:  kb.CreateDate,
		UpdateDate:  kb.UpdateDate,
		DocNum:      kb.DocNum,
		TokenNum:    kb.TokenNum,
		ChunkNum:    kb.ChunkNum,
		Scope:       scope,
		ScopeName:   scope.Name(),
		RoleID:      role.ID,
	}
}

func (s *MemoryStore) FindPersonalKnowledgebase(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPersonalLocked(userID)
}

// findPersonalLocked expects s.mu held.
func (s *MemoryStore) findPersonalLocked(userID string) (string, error) {
	var best *models.Knowledgebase
	for _, r := range s.roles {
		if r.UserID != userID || !models.ParseScope(string(r.Scope)).Writable() {
			continue
		}
		kb, ok := s.kbs[r.KnowledgeID]
		if !ok || kb.Permission != models.PermissionMe {
			continue
		}
		if best == nil || kb.CreateTime < best.CreateTime {
			best = kb
		}
	}
	if best == nil {
		return "", &ErrNotFound{Entity: "personal knowledgebase", Key: userID}
	}
	return best.ID, nil
}

func (s *MemoryStore) CreatePersonalKnowledgebase(ctx context.Context, kb *models.Knowledgebase, role *models.KnowledgebaseRole) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another call may have provisioned between the caller's lookup and
	// now; the existing knowledgebase always wins.
	if existing, err := s.findPersonalLocked(role.UserID); err == nil {
		return existing, false, nil
	}

	kbCopy := *kb
	roleCopy := *role
	s.kbs[kbCopy.ID] = &kbCopy
	s.roles[roleCopy.ID] = &roleCopy
	return kbCopy.ID, true, nil
}

func (s *MemoryStore) DefaultEmbeddingModel(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.TenantLLM
	for _, tl := range s.tenantLLMs {
		if tl.ModelType != models.ModelTypeEmbedding {
			continue
		}
		if best == nil || tl.CreateTime < best.CreateTime {
			best = tl
		}
	}
	if best == nil {
		return "", &ErrNotFound{Entity: "embedding model", Key: models.ModelTypeEmbedding}
	}
	return embeddingModelID(best), nil
}

// embeddingModelID composes the stored model identifier. Some rows
// already carry the factory suffix in llm_name.
func embeddingModelID(tl *models.TenantLLM) string {
	if strings.Contains(tl.LLMName, "@") {
		return tl.LLMName
	}
	return tl.LLMName + "@" + tl.LLMFactory
}

// ── Document Store ──────────────────────────────────────────

func (s *MemoryStore) ListDocuments(ctx context.Context, kbID, name string, limit, offset int) ([]models.Document, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.Document, 0)
	needle := strings.ToLower(name)
	for _, d := range s.docs {
		if d.KbID != kbID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(d.Name), needle) {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreateTime != matched[j].CreateTime {
			return matched[i].CreateTime > matched[j].CreateTime
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.Document{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	out := make([]models.Document, 0, end-offset)
	for _, d := range matched[offset:end] {
		out = append(out, *d)
	}
	return out, total, nil
}

// ── User Store ──────────────────────────────────────────────

func (s *MemoryStore) ListUsers(ctx context.Context, username, email string) ([]models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.UserSummary, 0)
	for _, u := range s.users {
		if username != "" && !strings.Contains(strings.ToLower(u.Nickname), strings.ToLower(username)) {
			continue
		}
		if email != "" && !strings.Contains(strings.ToLower(u.Email), strings.ToLower(email)) {
			continue
		}
		out = append(out, models.UserSummary{
			ID:         u.ID,
			Username:   u.Nickname,
			Email:      u.Email,
			CreateTime: u.CreateDate,
			UpdateTime: u.UpdateDate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime > out[j].CreateTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "user", Key: email}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := models.Now()
	cp := *user
	s.users[cp.ID] = &cp

	s.tenants[cp.ID] = &models.Tenant{
		ID:         cp.ID,
		Name:       cp.Nickname + "'s Kingdom",
		CreateTime: now.Millis,
		CreateDate: now.Date,
		UpdateTime: now.Millis,
		UpdateDate: now.Date,
		Status:     1,
	}
	owner := &models.UserTenant{
		ID:       NewRowID(),
		UserID:   cp.ID,
		TenantID: cp.ID,
		Role:     models.TenantRoleOwner,
		Status:   1,
	}
	s.userTenants[owner.ID] = owner

	// Join the earliest user's team and copy its model configurations,
	// so a fresh account can use the shared models out of the box.
	if seed := s.earliestUserLocked(cp.ID); seed != nil {
		member := &models.UserTenant{
			ID:        NewRowID(),
			UserID:    cp.ID,
			TenantID:  seed.ID,
			Role:      models.TenantRoleNormal,
			InvitedBy: seed.ID,
			Status:    1,
		}
		s.userTenants[member.ID] = member
		for _, tl := range s.tenantLLMs {
			if tl.TenantID != seed.ID {
				continue
			}
			tlCopy := *tl
			tlCopy.TenantID = cp.ID
			tlCopy.CreateTime = now.Millis
			s.tenantLLMs = append(s.tenantLLMs, &tlCopy)
		}
	}
	return nil
}

// earliestUserLocked returns the oldest user other than exclude, or nil.
func (s *MemoryStore) earliestUserLocked(exclude string) *models.User {
	var best *models.User
	for _, u := range s.users {
		if u.ID == exclude {
			continue
		}
		if best == nil || u.CreateTime < best.CreateTime {
			best = u
		}
	}
	return best
}

func (s *MemoryStore) UpdateUserNickname(ctx context.Context, id, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	now := models.Now()
	u.Nickname = nickname
	u.UpdateTime = now.Millis
	u.UpdateDate = now.Date
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	delete(s.users, id)
	delete(s.tenants, id)
	for key, ut := range s.userTenants {
		if ut.UserID == id || ut.TenantID == id {
			delete(s.userTenants, key)
		}
	}
	kept := s.tenantLLMs[:0]
	for _, tl := range s.tenantLLMs {
		if tl.TenantID != id {
			kept = append(kept, tl)
		}
	}
	s.tenantLLMs = kept
	return nil
}
