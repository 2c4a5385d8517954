// Package sessionstore provides the durable session, chat history, context
// summary, and audit persistence described for the conversation engine: a
// single writer, many reader model where every mutation commits atomically.
package sessionstore

import (
	"context"
	"errors"

	"github.com/relaydb/dbagent/internal/models"
)

// ErrNotFound is returned when a lookup by id or name matches no row.
var ErrNotFound = errors.New("sessionstore: not found")

// Store is the durable session/message/summary/audit surface the agent
// engine runs on. Every mutation is atomic per call; AddMessage additionally
// bumps the owning session's updated_at in the same transaction.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error

	// SetCurrentSession clears is_current on every other session before
	// setting it on id, all within one transaction.
	SetCurrentSession(ctx context.Context, id string) error
	GetCurrentSession(ctx context.Context) (*models.Session, error)

	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	GetSessionMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)
	ClearSessionMessages(ctx context.Context, sessionID string) error

	// DeleteOldestN removes the N oldest messages in a session by
	// created_at order, returning how many were actually removed.
	DeleteOldestN(ctx context.Context, sessionID string, n int) (int, error)

	SaveContextSummary(ctx context.Context, summary *models.ContextSummary) error
	GetLatestSummary(ctx context.Context, sessionID string) (*models.ContextSummary, error)

	// AppendAuditLog and Cleanup satisfy audit.Store so a sessionstore
	// Postgres instance doubles as the audit backend.
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}
