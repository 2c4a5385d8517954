package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaydb/dbagent/internal/models"
)

// ErrNotFound is returned when a task or item lookup finds nothing.
var ErrNotFound = errors.New("migration: not found")

// Store is the durable surface for migration tasks and items. It is
// implemented by PostgresStore, sharing the conversation engine's
// connection pool rather than opening a second one.
type Store interface {
	CreateTask(ctx context.Context, task *models.MigrationTask) error
	GetTask(ctx context.Context, taskID int64) (*models.MigrationTask, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status models.MigrationTaskStatus) error
	UpdateTaskAnalysis(ctx context.Context, taskID int64, analysis json.RawMessage, total int) error
	// UpdateTaskProgress sets the given counters when non-nil, leaving
	// the others unchanged.
	UpdateTaskProgress(ctx context.Context, taskID int64, completed, failed, skipped *int) error

	AddItemsBatch(ctx context.Context, items []*models.MigrationItem) error
	ListItems(ctx context.Context, taskID int64, status models.MigrationItemStatus) ([]*models.MigrationItem, error)
	GetItem(ctx context.Context, itemID int64) (*models.MigrationItem, error)
	GetNextPendingItem(ctx context.Context, taskID int64) (*models.MigrationItem, error)
	UpdateItemStatus(ctx context.Context, itemID int64, status models.MigrationItemStatus, errMsg string) error
	UpdateItemDDL(ctx context.Context, itemID int64, targetDDL string, notes []string) error
	UpdateItemExecutionResult(ctx context.Context, itemID int64, result string) error
	IncrementItemRetry(ctx context.Context, itemID int64) error
}

// PostgresStore persists migration tasks and items against an existing
// *sql.DB, typically the one opened by sessionstore.PostgresStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open pool. Callers share the
// sessionstore pool via its DB() accessor rather than dialing twice.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.MigrationTask) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO migration_tasks
			(name, source_connection_id, target_connection_id, source_engine, target_engine,
			 status, total, completed, failed, skipped, source_schema, target_schema, auto_execute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING id, created_at, updated_at
	`, task.Name, task.SourceConnectionID, task.TargetConnectionID, task.SourceEngine, task.TargetEngine,
		task.Status, task.Total, task.Completed, task.Failed, task.Skipped,
		task.SourceSchema, task.TargetSchema, task.AutoExecute,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create migration task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID int64) (*models.MigrationTask, error) {
	t := &models.MigrationTask{}
	var analysis sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_connection_id, target_connection_id, source_engine, target_engine,
		       status, total, completed, failed, skipped, source_schema, target_schema, auto_execute,
		       analysis_result, created_at, updated_at
		FROM migration_tasks WHERE id = $1
	`, taskID).Scan(&t.ID, &t.Name, &t.SourceConnectionID, &t.TargetConnectionID, &t.SourceEngine, &t.TargetEngine,
		&t.Status, &t.Total, &t.Completed, &t.Failed, &t.Skipped, &t.SourceSchema, &t.TargetSchema, &t.AutoExecute,
		&analysis, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get migration task: %w", err)
	}
	if analysis.Valid {
		t.AnalysisResult = json.RawMessage(analysis.String)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID int64, status models.MigrationTaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE migration_tasks SET status = $2, updated_at = now() WHERE id = $1`, taskID, status)
	if err != nil {
		return fmt.Errorf("update migration task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateTaskAnalysis(ctx context.Context, taskID int64, analysis json.RawMessage, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE migration_tasks SET analysis_result = $2, total = $3, updated_at = now() WHERE id = $1
	`, taskID, analysis, total)
	if err != nil {
		return fmt.Errorf("update migration task analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, taskID int64, completed, failed, skipped *int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE migration_tasks SET
			completed = COALESCE($2, completed),
			failed    = COALESCE($3, failed),
			skipped   = COALESCE($4, skipped),
			updated_at = now()
		WHERE id = $1
	`, taskID, completed, failed, skipped)
	if err != nil {
		return fmt.Errorf("update migration task progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddItemsBatch(ctx context.Context, items []*models.MigrationItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO migration_items
			(task_id, object_type, object_name, schema, execution_order, depends_on, status, source_ddl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare insert migration item: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		deps, err := json.Marshal(item.DependsOn)
		if err != nil {
			return fmt.Errorf("marshal depends_on: %w", err)
		}
		if item.Status == "" {
			item.Status = models.MigrationItemPending
		}
		if err := stmt.QueryRowContext(ctx, item.TaskID, item.ObjectType, item.ObjectName, item.Schema,
			item.ExecutionOrder, deps, item.Status, item.SourceDDL).Scan(&item.ID); err != nil {
			return fmt.Errorf("insert migration item: %w", err)
		}
	}
	return tx.Commit()
}

func scanItem(row interface{ Scan(dest ...any) error }) (*models.MigrationItem, error) {
	it := &models.MigrationItem{}
	var deps, notes []byte
	var targetDDL sql.NullString
	err := row.Scan(&it.ID, &it.TaskID, &it.ObjectType, &it.ObjectName, &it.Schema, &it.ExecutionOrder,
		&deps, &it.Status, &it.SourceDDL, &targetDDL, &notes, &it.ExecutionResult, &it.Error, &it.RetryCount)
	if err != nil {
		return nil, err
	}
	if targetDDL.Valid {
		it.TargetDDL = &targetDDL.String
	}
	if len(deps) > 0 {
		_ = json.Unmarshal(deps, &it.DependsOn)
	}
	if len(notes) > 0 {
		_ = json.Unmarshal(notes, &it.ConversionNotes)
	}
	return it, nil
}

const itemColumns = `id, task_id, object_type, object_name, schema, execution_order, depends_on, status, source_ddl, target_ddl, conversion_notes, execution_result, error, retry_count`

func (s *PostgresStore) ListItems(ctx context.Context, taskID int64, status models.MigrationItemStatus) ([]*models.MigrationItem, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM migration_items WHERE task_id = $1 ORDER BY execution_order`, taskID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM migration_items WHERE task_id = $1 AND status = $2 ORDER BY execution_order`, taskID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list migration items: %w", err)
	}
	defer rows.Close()

	var out []*models.MigrationItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan migration item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID int64) (*models.MigrationItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM migration_items WHERE id = $1`, itemID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get migration item: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) GetNextPendingItem(ctx context.Context, taskID int64) (*models.MigrationItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM migration_items
		WHERE task_id = $1 AND status = 'pending'
		ORDER BY execution_order LIMIT 1
	`, taskID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next pending item: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) UpdateItemStatus(ctx context.Context, itemID int64, status models.MigrationItemStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE migration_items SET status = $2, error = $3 WHERE id = $1`, itemID, status, errMsg)
	if err != nil {
		return fmt.Errorf("update migration item status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateItemDDL(ctx context.Context, itemID int64, targetDDL string, notes []string) error {
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal conversion notes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE migration_items SET target_ddl = $2, conversion_notes = $3 WHERE id = $1`, itemID, targetDDL, notesJSON)
	if err != nil {
		return fmt.Errorf("update migration item ddl: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateItemExecutionResult(ctx context.Context, itemID int64, result string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE migration_items SET execution_result = $2 WHERE id = $1`, itemID, result)
	if err != nil {
		return fmt.Errorf("update migration item execution result: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementItemRetry(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE migration_items SET retry_count = retry_count + 1, status = 'pending', error = '' WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("increment migration item retry: %w", err)
	}
	return nil
}
