package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

// PostgresStore is the pgx-backed SessionStore/FunctionStore/
// ExecutionLogStore, grounded on the teacher's JSONB-blob-per-row
// pattern: the structured parts of a Session live in real columns for
// indexing (request_id, language_title, expires_at), while the
// free-form context/compile_options/script live as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies connectivity, and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			request_id TEXT PRIMARY KEY,
			language_title TEXT NOT NULL,
			user_id TEXT,
			script_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			compile_status TEXT NOT NULL,
			compile_error TEXT,
			execution_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			last_executed_at TIMESTAMPTZ,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_language_title ON sessions(language_title)`,
		`CREATE TABLE IF NOT EXISTS functions (
			language_title TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			language_title TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_request_id ON execution_records(request_id)`,
		`CREATE TABLE IF NOT EXISTS error_records (
			id TEXT PRIMARY KEY,
			request_log_id TEXT NOT NULL,
			error_code TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scripts (
			language_title TEXT PRIMARY KEY REFERENCES functions(language_title),
			function_id TEXT NOT NULL,
			content TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// sessionRow mirrors the JSONB "data" column: the parts of Session not
// worth their own indexed columns.
type sessionRow struct {
	ScriptContent    string         `json:"script_content"`
	CompileOptions   map[string]any `json:"compile_options,omitempty"`
	Context          map[string]any `json:"context"`
	CompiledArtifact []byte         `json:"compiled_artifact,omitempty"`
}

func (s *PostgresStore) InsertSession(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(&sessionRow{
		ScriptContent:  sess.ScriptContent,
		CompileOptions: sess.CompileOptions,
		Context:        sess.Context,
	})
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (request_id, language_title, user_id, script_hash, status, compile_status, compile_error, execution_count, created_at, expires_at, last_executed_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)
	`, sess.RequestID, sess.LanguageTitle, sess.UserID, sess.ScriptHash, sess.Status, sess.CompileStatus, sess.CompileError, sess.ExecutionCount, sess.CreatedAt, sess.ExpiresAt, sess.LastExecutedAt, data)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession enforces I2 in the query itself (§4.1: "filtering expires_at
// > now and status = 'active'") rather than only filtering after the scan,
// so a session whose TTL lapsed but hasn't yet been caught by the sweeper
// is never returned.
func (s *PostgresStore) GetSession(ctx context.Context, requestID string) (*domain.Session, error) {
	var sess domain.Session
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT request_id, language_title, user_id, script_hash, status, compile_status, compile_error, execution_count, created_at, expires_at, last_executed_at, data
		FROM sessions WHERE request_id = $1 AND status != $2 AND expires_at > $3
	`, requestID, domain.SessionExpired, time.Now()).Scan(&sess.RequestID, &sess.LanguageTitle, &sess.UserID, &sess.ScriptHash, &sess.Status, &sess.CompileStatus, &sess.CompileError, &sess.ExecutionCount, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastExecutedAt, &data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var row sessionRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	sess.ScriptContent = row.ScriptContent
	sess.CompileOptions = row.CompileOptions
	sess.Context = row.Context
	sess.CompiledArtifact = row.CompiledArtifact

	return &sess, nil
}

func (s *PostgresStore) RecordExecution(ctx context.Context, requestID string, now time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET execution_count = execution_count + 1, last_executed_at = $2
		WHERE request_id = $1 AND status != $3
	`, requestID, now, domain.SessionExpired)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch extends expires_at for an active session, never moving it
// backward (§3, §4.1 contract).
func (s *PostgresStore) Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET expires_at = GREATEST(expires_at, $2)
		WHERE request_id = $1 AND status != $3 AND expires_at > $4
	`, requestID, newExpiry, domain.SessionExpired, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateCompileStatus(ctx context.Context, requestID string, status domain.CompileStatus, compileError string, artifact []byte) error {
	var artifactPatch []byte
	if artifact != nil {
		data, err := json.Marshal(&sessionRow{CompiledArtifact: artifact})
		if err != nil {
			return err
		}
		artifactPatch = data
	}

	var err error
	if artifactPatch != nil {
		_, err = s.pool.Exec(ctx, `
			UPDATE sessions
			SET compile_status = $2, compile_error = $3, data = data || $4::jsonb
			WHERE request_id = $1
		`, requestID, status, compileError, artifactPatch)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE sessions
			SET compile_status = $2, compile_error = $3
			WHERE request_id = $1
		`, requestID, status, compileError)
	}
	if err != nil {
		return fmt.Errorf("update compile status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $2
		WHERE status != $2 AND expires_at <= $1
	`, now, domain.SessionExpired)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// functionRow mirrors the JSONB "data" column for a catalog entry.
type functionRow struct {
	ID          string   `json:"id"`
	Language    string   `json:"language"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Schema      string   `json:"schema,omitempty"`
	Examples    string   `json:"examples,omitempty"`
	Version     int      `json:"version"`
	Tags        []string `json:"tags,omitempty"`
}

func (s *PostgresStore) ListFunctions(ctx context.Context, page, perPage int) (int, []*domain.Function, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM functions WHERE is_active`).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count functions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT language_title, data, is_active, created_at, updated_at
		FROM functions WHERE is_active
		ORDER BY language_title
		LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Function
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, fn)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("list functions rows: %w", err)
	}
	return total, out, nil
}

func (s *PostgresStore) GetFunction(ctx context.Context, languageTitle string) (*domain.Function, error) {
	var data []byte
	var fn domain.Function
	err := s.pool.QueryRow(ctx, `
		SELECT data, is_active, created_at, updated_at
		FROM functions WHERE language_title = $1
	`, languageTitle).Scan(&data, &fn.IsActive, &fn.CreatedAt, &fn.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get function: %w", err)
	}

	var row functionRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode function data: %w", err)
	}
	fn.ID = row.ID
	fn.Language = row.Language
	fn.Title = row.Title
	fn.LanguageTitle = languageTitle
	fn.Description = row.Description
	fn.Schema = row.Schema
	fn.Examples = row.Examples
	fn.Version = row.Version
	fn.Tags = row.Tags
	return &fn, nil
}

// GetScript returns the catalog fallback script for language_title
// (§4.7 step 1), consulted when an Initialize request omits
// script_content.
func (s *PostgresStore) GetScript(ctx context.Context, languageTitle string) (*domain.ScriptRecord, error) {
	var rec domain.ScriptRecord
	err := s.pool.QueryRow(ctx, `
		SELECT function_id, content FROM scripts WHERE language_title = $1
	`, languageTitle).Scan(&rec.FunctionID, &rec.Content)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(rs rowScanner) (*domain.Function, error) {
	var languageTitle string
	var data []byte
	var fn domain.Function
	if err := rs.Scan(&languageTitle, &data, &fn.IsActive, &fn.CreatedAt, &fn.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan function: %w", err)
	}
	var row functionRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode function data: %w", err)
	}
	fn.ID = row.ID
	fn.Language = row.Language
	fn.Title = row.Title
	fn.LanguageTitle = languageTitle
	fn.Description = row.Description
	fn.Schema = row.Schema
	fn.Examples = row.Examples
	fn.Version = row.Version
	fn.Tags = row.Tags
	return &fn, nil
}

func (s *PostgresStore) AppendExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_records (id, request_id, language_title, status_code, duration_ms, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.RequestID, rec.LanguageTitle, rec.StatusCode, rec.DurationMs, data, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendError(ctx context.Context, rec *domain.ErrorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO error_records (id, request_log_id, error_code, data, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.RequestLogID, rec.ErrorCode, data, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append error record: %w", err)
	}
	return nil
}

// PostgresSessions adapts PostgresStore to the SessionStore interface.
// A single PostgresStore can't implement both SessionStore and
// FunctionStore directly (each wants its own Get(ctx, key)), so the
// Session Manager and Function Catalog are handed one of these thin
// views instead of the concrete store.
type PostgresSessions struct{ *PostgresStore }

func (a PostgresSessions) Insert(ctx context.Context, s *domain.Session) error {
	return a.PostgresStore.InsertSession(ctx, s)
}
func (a PostgresSessions) Get(ctx context.Context, requestID string) (*domain.Session, error) {
	return a.PostgresStore.GetSession(ctx, requestID)
}

// PostgresFunctions adapts PostgresStore to the FunctionStore interface.
type PostgresFunctions struct{ *PostgresStore }

func (a PostgresFunctions) List(ctx context.Context, page, perPage int) (int, []*domain.Function, error) {
	return a.PostgresStore.ListFunctions(ctx, page, perPage)
}
func (a PostgresFunctions) Get(ctx context.Context, languageTitle string) (*domain.Function, error) {
	return a.PostgresStore.GetFunction(ctx, languageTitle)
}
