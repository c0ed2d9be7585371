// Package store — PostgreSQL Store implementation over pgxpool.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/aiboxcloud/management/pkg/models"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info().Msg("postgres store initialized")
	return s, nil
}

// Pool exposes the underlying connection pool so other subsystems
// (the session store) can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist. DDL is idempotent so
// startup can always run it.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS knowledgebase (
			id                       VARCHAR(32) PRIMARY KEY,
			create_time              BIGINT NOT NULL DEFAULT 0,
			create_date              TEXT NOT NULL DEFAULT '',
			update_time              BIGINT NOT NULL DEFAULT 0,
			update_date              TEXT NOT NULL DEFAULT '',
			avatar                   TEXT NOT NULL DEFAULT '',
			tenant_id                VARCHAR(32) NOT NULL DEFAULT '',
			name                     TEXT NOT NULL DEFAULT '',
			language                 TEXT NOT NULL DEFAULT 'English',
			description              TEXT NOT NULL DEFAULT '',
			embd_id                  TEXT NOT NULL DEFAULT '',
			permission               TEXT NOT NULL DEFAULT 'me',
			created_by               VARCHAR(32) NOT NULL DEFAULT '',
			doc_num                  BIGINT NOT NULL DEFAULT 0,
			token_num                BIGINT NOT NULL DEFAULT 0,
			chunk_num                BIGINT NOT NULL DEFAULT 0,
			similarity_threshold     DOUBLE PRECISION NOT NULL DEFAULT 0.2,
			vector_similarity_weight DOUBLE PRECISION NOT NULL DEFAULT 0.3,
			parser_id                TEXT NOT NULL DEFAULT 'naive',
			parser_config            JSONB NOT NULL DEFAULT '{}',
			pagerank                 INT NOT NULL DEFAULT 0,
			status                   TEXT NOT NULL DEFAULT '1'
		);
		CREATE INDEX IF NOT EXISTS idx_kb_permission ON knowledgebase (permission);

		CREATE TABLE IF NOT EXISTS knowledgebase_role (
			id           VARCHAR(32) PRIMARY KEY,
			knowledge_id VARCHAR(32) NOT NULL,
			user_id      VARCHAR(64) NOT NULL,
			user_name    TEXT NOT NULL DEFAULT '',
			user_phone   TEXT NOT NULL DEFAULT '',
			user_email   TEXT NOT NULL DEFAULT '',
			scope        TEXT NOT NULL DEFAULT '0',
			create_time  BIGINT NOT NULL DEFAULT 0,
			create_date  TEXT NOT NULL DEFAULT '',
			update_time  BIGINT NOT NULL DEFAULT 0,
			update_date  TEXT NOT NULL DEFAULT '',
			UNIQUE (user_id, knowledge_id)
		);
		CREATE INDEX IF NOT EXISTS idx_kb_role_user ON knowledgebase_role (user_id);

		CREATE TABLE IF NOT EXISTS document (
			id          VARCHAR(32) PRIMARY KEY,
			kb_id       VARCHAR(32) NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			type        TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT '0',
			size        BIGINT NOT NULL DEFAULT 0,
			create_time BIGINT NOT NULL DEFAULT 0,
			create_date TEXT NOT NULL DEFAULT '',
			update_time BIGINT NOT NULL DEFAULT 0,
			update_date TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_document_kb ON document (kb_id);

		CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(32) PRIMARY KEY,
			nickname      TEXT NOT NULL DEFAULT '',
			password      TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			language      TEXT NOT NULL DEFAULT 'English',
			color_schema  TEXT NOT NULL DEFAULT 'Bright',
			timezone      TEXT NOT NULL DEFAULT 'UTC+8 Asia/Shanghai',
			login_channel TEXT NOT NULL DEFAULT 'password',
			create_time   BIGINT NOT NULL DEFAULT 0,
			create_date   TEXT NOT NULL DEFAULT '',
			update_time   BIGINT NOT NULL DEFAULT 0,
			update_date   TEXT NOT NULL DEFAULT '',
			status        INT NOT NULL DEFAULT 1,
			is_superuser  BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email);

		CREATE TABLE IF NOT EXISTS tenant (
			id          VARCHAR(32) PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			llm_id      TEXT NOT NULL DEFAULT '',
			embd_id     TEXT NOT NULL DEFAULT '',
			asr_id      TEXT NOT NULL DEFAULT '',
			img2txt_id  TEXT NOT NULL DEFAULT '',
			rerank_id   TEXT NOT NULL DEFAULT '',
			tts_id      TEXT NOT NULL DEFAULT '',
			parser_ids  TEXT NOT NULL DEFAULT '',
			credit      TEXT NOT NULL DEFAULT '512',
			create_time BIGINT NOT NULL DEFAULT 0,
			create_date TEXT NOT NULL DEFAULT '',
			update_time BIGINT NOT NULL DEFAULT 0,
			update_date TEXT NOT NULL DEFAULT '',
			status      INT NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS user_tenant (
			id         VARCHAR(32) PRIMARY KEY,
			user_id    VARCHAR(32) NOT NULL,
			tenant_id  VARCHAR(32) NOT NULL,
			role       TEXT NOT NULL DEFAULT 'normal',
			invited_by VARCHAR(32) NOT NULL DEFAULT '',
			status     INT NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_user_tenant_user ON user_tenant (user_id);

		CREATE TABLE IF NOT EXISTS tenant_llm (
			tenant_id   VARCHAR(32) NOT NULL,
			llm_factory TEXT NOT NULL DEFAULT '',
			model_type  TEXT NOT NULL DEFAULT '',
			llm_name    TEXT NOT NULL DEFAULT '',
			api_key     TEXT NOT NULL DEFAULT '',
			api_base    TEXT NOT NULL DEFAULT '',
			max_tokens  BIGINT NOT NULL DEFAULT 8192,
			used_tokens BIGINT NOT NULL DEFAULT 0,
			create_time BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, llm_factory, llm_name)
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Knowledgebase Store ─────────────────────────────────────

func (s *PostgresStore) GetKnowledgebase(ctx context.Context, kbID string) (*models.Knowledgebase, error) {
	var kb models.Knowledgebase
	err := s.pool.QueryRow(ctx, `
		SELECT id, create_time, create_date, update_time, update_date, avatar,
		       tenant_id, name, language, description, embd_id, permission,
		       created_by, doc_num, token_num, chunk_num, similarity_threshold,
		       vector_similarity_weight, parser_id, parser_config, pagerank, status
		FROM knowledgebase WHERE id = $1`, kbID,
	).Scan(&kb.ID, &kb.CreateTime, &kb.CreateDate, &kb.UpdateTime, &kb.UpdateDate,
		&kb.Avatar, &kb.TenantID, &kb.Name, &kb.Language, &kb.Description,
		&kb.EmbeddingModelID, &kb.Permission, &kb.CreatedBy, &kb.DocNum,
		&kb.TokenNum, &kb.ChunkNum, &kb.SimilarityThreshold,
		&kb.VectorSimilarityWeight, &kb.ParserID, &kb.ParserConfig,
		&kb.Pagerank, &kb.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledgebase", Key: kbID}
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledgebase: %w", err)
	}
	return &kb, nil
}

func (s *PostgresStore) GetRoleGrant(ctx context.Context, userID, kbID string) (*models.RoleGrant, error) {
	var grant models.RoleGrant
	var scope string
	err := s.pool.QueryRow(ctx, `
		SELECT id, scope FROM knowledgebase_role
		WHERE user_id = $1 AND knowledge_id = $2`, userID, kbID,
	).Scan(&grant.RoleID, &scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledgebase role", Key: userID + ":" + kbID}
	}
	if err != nil {
		return nil, fmt.Errorf("get role grant: %w", err)
	}
	grant.Scope = models.ParseScope(scope)
	return &grant, nil
}

func (s *PostgresStore) ListTeamKnowledgebases(ctx context.Context, userID string) ([]models.KnowledgebaseSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kb.id, kb.name, kb.description, kb.language, kb.create_date,
		       kb.update_date, kb.doc_num, kb.token_num, kb.chunk_num,
		       r.scope, r.id
		FROM knowledgebase kb
		JOIN knowledgebase_role r ON r.knowledge_id = kb.id
		WHERE r.user_id = $1 AND kb.permission = $2
		ORDER BY kb.create_time DESC, kb.id`, userID, models.PermissionTeam)
	if err != nil {
		return nil, fmt.Errorf("list team knowledgebases: %w", err)
	}
	defer rows.Close()

	out := make([]models.KnowledgebaseSummary, 0)
	for rows.Next() {
		var sum models.KnowledgebaseSummary
		var scope string
		if err := rows.Scan(&sum.KbID, &sum.Name, &sum.Description, &sum.Language,
			&sum.CreateDate, &sum.UpdateDate, &sum.DocNum, &sum.TokenNum,
			&sum.ChunkNum, &scope, &sum.RoleID); err != nil {
			return nil, fmt.Errorf("scan knowledgebase row: %w", err)
		}
		sum.Scope = models.ParseScope(scope)
		sum.ScopeName = sum.Scope.Name()
		out = append(out, sum)
	}
	return out, rows.Err()
}

const findPersonalSQL = `
	SELECT kb.id
	FROM knowledgebase kb
	JOIN knowledgebase_role r ON r.knowledge_id = kb.id
	WHERE r.user_id = $1 AND r.scope = '1' AND kb.permission = $2
	ORDER BY kb.create_time
	LIMIT 1`

func (s *PostgresStore) FindPersonalKnowledgebase(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, findPersonalSQL, userID, models.PermissionMe).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &ErrNotFound{Entity: "personal knowledgebase", Key: userID}
	}
	if err != nil {
		return "", fmt.Errorf("find personal knowledgebase: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreatePersonalKnowledgebase(ctx context.Context, kb *models.Knowledgebase, role *models.KnowledgebaseRole) (string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin provisioning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Transaction-scoped advisory lock keyed by the user serializes
	// concurrent provisioning so exactly one knowledgebase is created.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, role.UserID); err != nil {
		return "", false, fmt.Errorf("acquire provisioning lock: %w", err)
	}

	var existing string
	err = tx.QueryRow(ctx, findPersonalSQL, role.UserID, models.PermissionMe).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("recheck personal knowledgebase: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO knowledgebase (
			id, create_time, create_date, update_time, update_date, avatar,
			tenant_id, name, language, description, embd_id, permission,
			created_by, doc_num, token_num, chunk_num, similarity_threshold,
			vector_similarity_weight, parser_id, parser_config, pagerank, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		kb.ID, kb.CreateTime, kb.CreateDate, kb.UpdateTime, kb.UpdateDate,
		kb.Avatar, kb.TenantID, kb.Name, kb.Language, kb.Description,
		kb.EmbeddingModelID, kb.Permission, kb.CreatedBy, kb.DocNum,
		kb.TokenNum, kb.ChunkNum, kb.SimilarityThreshold,
		kb.VectorSimilarityWeight, kb.ParserID, kb.ParserConfig,
		kb.Pagerank, kb.Status); err != nil {
		return "", false, fmt.Errorf("insert knowledgebase: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO knowledgebase_role (
			id, knowledge_id, user_id, user_name, user_phone, user_email,
			scope, create_time, create_date, update_time, update_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		role.ID, role.KnowledgeID, role.UserID, role.UserName, role.UserPhone,
		role.UserEmail, string(role.Scope), role.CreateTime, role.CreateDate,
		role.UpdateTime, role.UpdateDate); err != nil {
		return "", false, fmt.Errorf("insert knowledgebase role: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit provisioning tx: %w", err)
	}
	return kb.ID, true, nil
}

func (s *PostgresStore) DefaultEmbeddingModel(ctx context.Context) (string, error) {
	var name, factory string
	err := s.pool.QueryRow(ctx, `
		SELECT llm_name, llm_factory FROM tenant_llm
		WHERE model_type = $1
		ORDER BY create_time
		LIMIT 1`, models.ModelTypeEmbedding,
	).Scan(&name, &factory)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &ErrNotFound{Entity: "embedding model", Key: models.ModelTypeEmbedding}
	}
	if err != nil {
		return "", fmt.Errorf("default embedding model: %w", err)
	}
	return embeddingModelID(&models.TenantLLM{LLMName: name, LLMFactory: factory}), nil
}

// ── Document Store ──────────────────────────────────────────

func (s *PostgresStore) ListDocuments(ctx context.Context, kbID, name string, limit, offset int) ([]models.Document, int64, error) {
	pattern := "%" + name + "%"

	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM document
		WHERE kb_id = $1 AND name ILIKE $2`, kbID, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, kb_id, name, location, type, status, size,
		       create_time, create_date, update_time, update_date
		FROM document
		WHERE kb_id = $1 AND name ILIKE $2
		ORDER BY create_time DESC, id
		LIMIT $3 OFFSET $4`, kbID, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0, limit)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.KbID, &d.Name, &d.Location, &d.Type,
			&d.Status, &d.Size, &d.CreateTime, &d.CreateDate,
			&d.UpdateTime, &d.UpdateDate); err != nil {
			return nil, 0, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// ── User Store ──────────────────────────────────────────────

func (s *PostgresStore) ListUsers(ctx context.Context, username, email string) ([]models.UserSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, nickname, email, create_date, update_date
		FROM users
		WHERE nickname ILIKE $1 AND email ILIKE $2
		ORDER BY create_time DESC, id`,
		"%"+username+"%", "%"+email+"%")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]models.UserSummary, 0)
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreateTime, &u.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *PostgresStore) getUserBy(ctx context.Context, column, key string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, nickname, password, email, language, color_schema, timezone,
		       login_channel, create_time, create_date, update_time, update_date,
		       status, is_superuser
		FROM users WHERE `+column+` = $1`, key,
	).Scan(&u.ID, &u.Nickname, &u.Password, &u.Email, &u.Language,
		&u.ColorSchema, &u.Timezone, &u.LoginChannel, &u.CreateTime,
		&u.CreateDate, &u.UpdateTime, &u.UpdateDate, &u.Status, &u.IsSuperuser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "user", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create-user tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := models.Now()
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (
			id, nickname, password, email, language, color_schema, timezone,
			login_channel, create_time, create_date, update_time, update_date,
			status, is_superuser
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		user.ID, user.Nickname, user.Password, user.Email, user.Language,
		user.ColorSchema, user.Timezone, user.LoginChannel, user.CreateTime,
		user.CreateDate, user.UpdateTime, user.UpdateDate, user.Status,
		user.IsSuperuser); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tenant (id, name, create_time, create_date, update_time, update_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, 1)`,
		user.ID, user.Nickname+"'s Kingdom", now.Millis, now.Date, now.Millis, now.Date); err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_tenant (id, user_id, tenant_id, role, status)
		VALUES ($1, $2, $3, $4, 1)`,
		NewRowID(), user.ID, user.ID, models.TenantRoleOwner); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	// Fresh accounts join the earliest user's team and inherit its model
	// configurations so shared models work without manual setup.
	var seedID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM users WHERE id <> $1
		ORDER BY create_time
		LIMIT 1`, user.ID).Scan(&seedID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First account in the system; nothing to inherit.
	case err != nil:
		return fmt.Errorf("find seed user: %w", err)
	default:
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_tenant (id, user_id, tenant_id, role, invited_by, status)
			VALUES ($1, $2, $3, $4, $5, 1)`,
			NewRowID(), user.ID, seedID, models.TenantRoleNormal, seedID); err != nil {
			return fmt.Errorf("insert team membership: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tenant_llm (tenant_id, llm_factory, model_type, llm_name,
			                        api_key, api_base, max_tokens, used_tokens, create_time)
			SELECT $1, llm_factory, model_type, llm_name, api_key, api_base, max_tokens, 0, $2
			FROM tenant_llm WHERE tenant_id = $3
			ON CONFLICT DO NOTHING`,
			user.ID, now.Millis, seedID); err != nil {
			return fmt.Errorf("copy model configurations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create-user tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserNickname(ctx context.Context, id, nickname string) error {
	now := models.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET nickname = $1, update_time = $2, update_date = $3
		WHERE id = $4`, nickname, now.Millis, now.Date, id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete-user tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tenant WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_tenant WHERE user_id = $1 OR tenant_id = $1`, id); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tenant_llm WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("delete model configurations: %w", err)
	}
	return tx.Commit(ctx)
}
