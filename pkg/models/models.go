// Package models defines the core entities of the management backend:
// knowledgebases, knowledgebase roles, documents, users and tenants.
//
// Rows are explicit structs per query rather than untyped maps so that
// field access is checked at compile time.
package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ── Scope ────────────────────────────────────────────────────

// Scope is the access level a role grants on a knowledgebase.
// The storage encoding is a single-character string: "0" read-only,
// "1" read-write.
type Scope string

const (
	ScopeReadOnly  Scope = "0"
	ScopeReadWrite Scope = "1"
)

// ParseScope normalizes a stored scope value. Unrecognized values are
// treated as read-only.
func ParseScope(raw string) Scope {
	if raw == string(ScopeReadWrite) {
		return ScopeReadWrite
	}
	return ScopeReadOnly
}

// Name returns the human-readable label for the scope.
func (s Scope) Name() string {
	if s == ScopeReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Writable reports whether the scope allows mutation.
func (s Scope) Writable() bool { return s == ScopeReadWrite }

// ── Knowledgebase ────────────────────────────────────────────

// Knowledgebase permission values. "team" knowledgebases are shared and
// reached through explicit roles; "me" knowledgebases are personal with
// exactly one owning read-write role.
const (
	PermissionTeam = "team"
	PermissionMe   = "me"
)

// Knowledgebase status values.
const (
	KBStatusActive = "1"
)

// Knowledgebase is the full knowledgebase row as written by the
// provisioner. Descriptive fields (parser config, thresholds) are opaque
// payload; only id, permission and created_by drive behavior here.
type Knowledgebase struct {
	ID                     string          `json:"id"`
	CreateTime             int64           `json:"create_time"` // unix millis
	CreateDate             string          `json:"create_date"`
	UpdateTime             int64           `json:"update_time"`
	UpdateDate             string          `json:"update_date"`
	Avatar                 string          `json:"avatar,omitempty"`
	TenantID               string          `json:"tenant_id"`
	Name                   string          `json:"name"`
	Language               string          `json:"language"`
	Description            string          `json:"description"`
	EmbeddingModelID       string          `json:"embd_id"`
	Permission             string          `json:"permission"`
	CreatedBy              string          `json:"created_by"`
	DocNum                 int64           `json:"doc_num"`
	TokenNum               int64           `json:"token_num"`
	ChunkNum               int64           `json:"chunk_num"`
	SimilarityThreshold    float64         `json:"similarity_threshold"`
	VectorSimilarityWeight float64         `json:"vector_similarity_weight"`
	ParserID               string          `json:"parser_id"`
	ParserConfig           json.RawMessage `json:"parser_config"`
	Pagerank               int             `json:"pagerank"`
	Status                 string          `json:"status"`
}

// DefaultEmbeddingModelID is the embedding model assigned to a fresh
// personal knowledgebase when no embedding-type model is configured.
const DefaultEmbeddingModelID = "bge-m3___VLLM@VLLM"

// DefaultParserConfig is the parser configuration written for fresh
// personal knowledgebases: layout recognition on, 512-token chunks,
// default sentence delimiters, keyword/question extraction and
// raptor/graphrag off.
func DefaultParserConfig() json.RawMessage {
	cfg := map[string]any{
		"layout_recognize": "DeepDOC",
		"chunk_token_num":  512,
		"delimiter":        "\n!?;。；！？",
		"auto_keywords":    0,
		"auto_questions":   0,
		"html4excel":       false,
		"raptor":           map[string]any{"use_raptor": false},
		"graphrag":         map[string]any{"use_graphrag": false},
	}
	raw, _ := json.Marshal(cfg)
	return raw
}

// ── KnowledgebaseRole ────────────────────────────────────────

// KnowledgebaseRole relates a user to a knowledgebase with a scope.
// At most one role row exists per (user, knowledgebase) pair.
type KnowledgebaseRole struct {
	ID          string `json:"id"`
	KnowledgeID string `json:"knowledge_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name,omitempty"`
	UserPhone   string `json:"user_phone,omitempty"`
	UserEmail   string `json:"user_email,omitempty"`
	Scope       Scope  `json:"scope"`
	CreateTime  int64  `json:"create_time"`
	CreateDate  string `json:"create_date"`
	UpdateTime  int64  `json:"update_time"`
	UpdateDate  string `json:"update_date"`
}

// RoleGrant is the outcome of resolving a user's access to a
// knowledgebase.
type RoleGrant struct {
	RoleID string `json:"role_id"`
	Scope  Scope  `json:"scope"`
}

// KnowledgebaseSummary is a listing row: knowledgebase attributes joined
// with the requesting user's role.
type KnowledgebaseSummary struct {
	KbID        string `json:"kb_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	CreateDate  string `json:"create_date"`
	UpdateDate  string `json:"update_date"`
	DocNum      int64  `json:"doc_num"`
	TokenNum    int64  `json:"token_num"`
	ChunkNum    int64  `json:"chunk_num"`
	Scope       Scope  `json:"scope"`
	ScopeName   string `json:"scope_name"`
	RoleID      string `json:"role_id"`
}

// KnowledgebaseDetail extends the summary with retrieval/parser
// configuration, returned by the detail endpoint.
type KnowledgebaseDetail struct {
	KnowledgebaseSummary
	SimilarityThreshold    float64         `json:"similarity_threshold"`
	VectorSimilarityWeight float64         `json:"vector_similarity_weight"`
	ParserID               string          `json:"parser_id"`
	ParserConfig           json.RawMessage `json:"parser_config"`
}

// ── Document ─────────────────────────────────────────────────

// Document processing status codes as stored.
const (
	DocStatusPending    = "0"
	DocStatusProcessing = "1"
	DocStatusDone       = "2"
	DocStatusFailed     = "3"
)

// DocStatusName maps a stored status code to its label. Unknown codes
// render as "unknown".
func DocStatusName(code string) string {
	switch code {
	case DocStatusPending:
		return "pending"
	case DocStatusProcessing:
		return "processing"
	case DocStatusDone:
		return "done"
	case DocStatusFailed:
		return "failed"
	}
	return "unknown"
}

// Document is a stored document row. Documents are read-only from this
// service's perspective.
type Document struct {
	ID         string `json:"id"`
	KbID       string `json:"kb_id"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Type       string `json:"type,omitempty"`
	Status     string `json:"status"`
	Size       int64  `json:"size"`
	CreateTime int64  `json:"create_time"`
	CreateDate string `json:"create_date"`
	UpdateTime int64  `json:"update_time"`
	UpdateDate string `json:"update_date"`
}

// DocumentRow is the presentation shape of a document: the stored row
// plus derived human-readable status and size labels. The derivations
// are never persisted.
type DocumentRow struct {
	Document
	StatusName    string `json:"status_name"`
	SizeFormatted string `json:"size_formatted"`
}

// FormatSize renders a byte count for display: "%vKB" below 1MiB,
// "%vMB" otherwise, rounded to two decimal places. Trailing zeros are
// dropped but at least one decimal is kept: 512000 → "500.0KB",
// 2097152 → "2.0MB", 500 → "0.49KB".
func FormatSize(bytes int64) string {
	const mib = 1024 * 1024
	if bytes < mib {
		return roundTwo(float64(bytes)/1024) + "KB"
	}
	return roundTwo(float64(bytes)/mib) + "MB"
}

func roundTwo(v float64) string {
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// NewDocumentRow derives the presentation row for a stored document.
func NewDocumentRow(d Document) DocumentRow {
	return DocumentRow{
		Document:      d,
		StatusName:    DocStatusName(d.Status),
		SizeFormatted: FormatSize(d.Size),
	}
}

// DocumentPage is one page of documents plus the total count for the
// unfiltered-by-page query.
type DocumentPage struct {
	List  []DocumentRow `json:"list"`
	Total int64         `json:"total"`
}

// PersonalDocuments is the provisioner result: the personal
// knowledgebase id, whether it was created by this call, and its
// documents (empty when freshly created).
type PersonalDocuments struct {
	KbID         string       `json:"kb_id"`
	IsNewCreated bool         `json:"is_new_created"`
	Documents    DocumentPage `json:"documents"`
}

// ── Identity ─────────────────────────────────────────────────

// IdentityClaims are the ID-token claims resolved for an authenticated
// session. Derived fresh per request from session state; any field but
// Sub may be absent.
type IdentityClaims struct {
	Sub         string `json:"sub"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// ── User / Tenant ────────────────────────────────────────────

// User is an account row managed through the admin CRUD surface.
type User struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	Password     string `json:"-"`
	Email        string `json:"email"`
	Language     string `json:"language,omitempty"`
	ColorSchema  string `json:"color_schema,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	LoginChannel string `json:"login_channel,omitempty"`
	CreateTime   int64  `json:"create_time"`
	CreateDate   string `json:"create_date"`
	UpdateTime   int64  `json:"update_time"`
	UpdateDate   string `json:"update_date"`
	Status       int    `json:"status"`
	IsSuperuser  bool   `json:"is_superuser"`
}

// UserSummary is the admin listing row.
type UserSummary struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

// Tenant holds per-user model configuration. Every user owns exactly
// one tenant with the same id as the user.
type Tenant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LLMID      string `json:"llm_id"`
	EmbdID     string `json:"embd_id"`
	ASRID      string `json:"asr_id"`
	Img2TxtID  string `json:"img2txt_id"`
	RerankID   string `json:"rerank_id"`
	TTSID      string `json:"tts_id"`
	ParserIDs  string `json:"parser_ids"`
	Credit     string `json:"credit"`
	CreateTime int64  `json:"create_time"`
	CreateDate string `json:"create_date"`
	UpdateTime int64  `json:"update_time"`
	UpdateDate string `json:"update_date"`
	Status     int    `json:"status"`
}

// UserTenant membership roles.
const (
	TenantRoleOwner  = "owner"
	TenantRoleNormal = "normal"
)

// UserTenant links a user to a tenant (team membership).
type UserTenant struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	Status    int    `json:"status"`
}

// TenantLLM is a model configured for a tenant. The provisioner reads
// the earliest embedding-type row to pick a default embedding model.
type TenantLLM struct {
	TenantID   string `json:"tenant_id"`
	LLMFactory string `json:"llm_factory"`
	ModelType  string `json:"model_type"`
	LLMName    string `json:"llm_name"`
	APIKey     string `json:"-"`
	APIBase    string `json:"api_base,omitempty"`
	MaxTokens  int64  `json:"max_tokens"`
	UsedTokens int64  `json:"used_tokens"`
	CreateTime int64  `json:"create_time"`
}

// ModelTypeEmbedding is the tenant_llm model_type the provisioner
// queries for.
const ModelTypeEmbedding = "embedding"

// ── Directory (identity provider) ────────────────────────────

// DirectoryUser is a user record from the identity provider's
// management API, normalized for the admin UI.
type DirectoryUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	PrimaryEmail string `json:"primaryEmail"`
	PrimaryPhone string `json:"primaryPhone"`
	Avatar       string `json:"avatar"`
	LastSignInAt int64  `json:"lastSignInAt"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	IsSuspended  bool   `json:"isSuspended"`
	HasPassword  bool   `json:"hasPassword"`
}

// ── Time helpers ─────────────────────────────────────────────

// Timestamp captures the creation-time pair written throughout the
// schema: unix milliseconds plus a formatted datetime.
type Timestamp struct {
	Millis int64
	Date   string
}

// Now returns the current Timestamp.
func Now() Timestamp {
	t := time.Now()
	return Timestamp{
		Millis: t.UnixMilli(),
		Date:   t.Format("2006-01-02 15:04:05"),
	}
}
