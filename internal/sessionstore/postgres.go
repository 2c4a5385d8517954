package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaydb/dbagent/internal/models"
)

// Config holds connection parameters for the Postgres-backed store.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane pool defaults for a local session store.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "",
		Database:        "dbagent",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore is the Store implementation used in production: it holds
// the session/message/summary/audit tables behind a pooled *sql.DB.
type PostgresStore struct {
	db *sql.DB
}

// DB exposes the underlying pool so sibling stores (connections,
// providers, tool servers) can share it without opening a second pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// NewPostgresStore opens a pool, pings it, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)
	return NewPostgresStoreFromDSN(ctx, dsn, cfg)
}

// NewPostgresStoreFromDSN opens a pool from a raw DSN/URL.
func NewPostgresStoreFromDSN(ctx context.Context, dsn string, cfg Config) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, connection_id, provider_id, is_current, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.Name, session.ConnectionID, session.ProviderID, session.IsCurrent,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, connection_id, provider_id, is_current, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&session.ID, &session.Name, &session.ConnectionID, &session.ProviderID,
		&session.IsCurrent, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, connection_id, provider_id, is_current, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(&session.ID, &session.Name, &session.ConnectionID, &session.ProviderID,
			&session.IsCurrent, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) RenameSession(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = $1, updated_at = $2 WHERE id = $3
	`, name, time.Now(), id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session; its messages and summaries cascade via
// the foreign key ON DELETE CASCADE.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCurrentSession clears is_current everywhere, then sets it on id, in a
// single transaction so no two sessions are ever current at once.
func (s *PostgresStore) SetCurrentSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = false WHERE is_current = true`); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = true, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, connection_id, provider_id, is_current, created_at, updated_at
		FROM sessions WHERE is_current = true LIMIT 1
	`).Scan(&session.ID, &session.Name, &session.ConnectionID, &session.ProviderID,
		&session.IsCurrent, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return session, nil
}

// AddMessage inserts a message and bumps the session's updated_at in one
// transaction, so a crash between the two never leaves a torn write.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, time.Now(), msg.SessionID); err != nil {
		return fmt.Errorf("bump session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetSessionMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		var toolCallsJSON []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &toolCallsJSON,
			&msg.ToolCallID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(toolCallsJSON) > 0 && string(toolCallsJSON) != "null" {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) ClearSessionMessages(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session messages: %w", err)
	}
	return nil
}

// DeleteOldestN removes up to n of the oldest messages in a session. Used
// by the context compressor once it has folded them into a summary.
func (s *PostgresStore) DeleteOldestN(ctx context.Context, sessionID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_messages WHERE id IN (
			SELECT id FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2
		)
	`, sessionID, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest messages: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete oldest messages: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) SaveContextSummary(ctx context.Context, summary *models.ContextSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_summaries (session_id, summary, messages_replaced, tokens_before, tokens_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, summary.SessionID, summary.Summary, summary.MessagesReplaced, summary.TokensBefore,
		summary.TokensAfter, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("save context summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestSummary(ctx context.Context, sessionID string) (*models.ContextSummary, error) {
	summary := &models.ContextSummary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, summary, messages_replaced, tokens_before, tokens_after, created_at
		FROM context_summaries WHERE session_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, sessionID).Scan(&summary.SessionID, &summary.Summary, &summary.MessagesReplaced,
		&summary.TokensBefore, &summary.TokensAfter, &summary.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest summary: %w", err)
	}
	return summary, nil
}

// AppendAuditLog implements audit.Store.
func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (session_id, connection_id, category, action, target_type, target_name,
			sql_text, parameters, result_status, result_summary, affected_rows, execution_time_ms,
			user_confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.SessionID, entry.ConnectionID, entry.Category, entry.Action, entry.TargetType,
		entry.TargetName, entry.SQLText, entry.Parameters, entry.ResultStatus, entry.ResultSummary,
		entry.AffectedRows, entry.ExecutionTimeMs, entry.UserConfirmed, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// Cleanup implements audit.Store: it purges entries older than the
// retention window, by age only, never by content.
func (s *PostgresStore) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_logs WHERE created_at < now() - ($1 || ' days')::interval
	`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	return rows, nil
}
