package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/relaydb/dbagent/internal/models"
)

// RegistryStore is the durable surface for the connection/provider/
// external-tool-server profiles the credential store, tool registry, and
// external tool-server manager read at turn boundaries. It is satisfied
// by the same PostgresStore as Store so callers can open one pool for
// the whole durable layer.
type RegistryStore interface {
	CreateConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, name string) (*models.Connection, error)
	ListConnections(ctx context.Context) ([]*models.Connection, error)
	DeleteConnection(ctx context.Context, name string) error
	// SetActiveConnection clears is_active on every other connection
	// before setting it on name, in one transaction.
	SetActiveConnection(ctx context.Context, name string) error
	GetActiveConnection(ctx context.Context) (*models.Connection, error)

	CreateProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, name string) (*models.Provider, error)
	ListProviders(ctx context.Context) ([]*models.Provider, error)
	DeleteProvider(ctx context.Context, name string) error
	// SetDefaultProvider clears is_default on every other provider before
	// setting it on name, in one transaction.
	SetDefaultProvider(ctx context.Context, name string) error
	GetDefaultProvider(ctx context.Context) (*models.Provider, error)

	CreateToolServer(ctx context.Context, cfg *models.ToolServerConfig) error
	ListToolServers(ctx context.Context) ([]*models.ToolServerConfig, error)
	SetToolServerEnabled(ctx context.Context, name string, enabled bool) error
	DeleteToolServer(ctx context.Context, name string) error
}

func (s *PostgresStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO connections (name, engine, host, port, database, "user", password_encrypted, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, created_at, updated_at
	`, conn.Name, conn.Engine, conn.Host, conn.Port, conn.Database, conn.User, conn.PasswordEncrypted, conn.IsActive,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, name string) (*models.Connection, error) {
	c := &models.Connection{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, engine, host, port, database, "user", password_encrypted, is_active, created_at, updated_at
		FROM connections WHERE name = $1
	`, name).Scan(&c.ID, &c.Name, &c.Engine, &c.Host, &c.Port, &c.Database, &c.User, &c.PasswordEncrypted, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, engine, host, port, database, "user", password_encrypted, is_active, created_at, updated_at
		FROM connections ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		c := &models.Connection{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Engine, &c.Host, &c.Port, &c.Database, &c.User, &c.PasswordEncrypted, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetActiveConnection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE connections SET is_active = false WHERE is_active = true`); err != nil {
		return fmt.Errorf("clear active connection: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE connections SET is_active = true, updated_at = now() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("set active connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) GetActiveConnection(ctx context.Context) (*models.Connection, error) {
	c := &models.Connection{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, engine, host, port, database, "user", password_encrypted, is_active, created_at, updated_at
		FROM connections WHERE is_active = true LIMIT 1
	`).Scan(&c.ID, &c.Name, &c.Engine, &c.Host, &c.Port, &c.Database, &c.User, &c.PasswordEncrypted, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO providers (name, kind, api_key_encrypted, model, base_url, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at
	`, p.Name, p.Kind, p.APIKeyEncrypted, p.Model, p.BaseURL, p.IsDefault,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, name string) (*models.Provider, error) {
	p := &models.Provider{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, api_key_encrypted, model, base_url, is_default, created_at, updated_at
		FROM providers WHERE name = $1
	`, name).Scan(&p.ID, &p.Name, &p.Kind, &p.APIKeyEncrypted, &p.Model, &p.BaseURL, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, api_key_encrypted, model, base_url, is_default, created_at, updated_at
		FROM providers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []*models.Provider
	for rows.Next() {
		p := &models.Provider{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.APIKeyEncrypted, &p.Model, &p.BaseURL, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteProvider(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDefaultProvider(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE providers SET is_default = false WHERE is_default = true`); err != nil {
		return fmt.Errorf("clear default provider: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE providers SET is_default = true, updated_at = now() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("set default provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) GetDefaultProvider(ctx context.Context) (*models.Provider, error) {
	p := &models.Provider{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, api_key_encrypted, model, base_url, is_default, created_at, updated_at
		FROM providers WHERE is_default = true LIMIT 1
	`).Scan(&p.ID, &p.Name, &p.Kind, &p.APIKeyEncrypted, &p.Model, &p.BaseURL, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default provider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateToolServer(ctx context.Context, cfg *models.ToolServerConfig) error {
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tool_server_configs (name, command, args, env, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, cfg.Name, cfg.Command, args, env, cfg.Enabled).Scan(&cfg.ID)
	if err != nil {
		return fmt.Errorf("create tool server: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListToolServers(ctx context.Context) ([]*models.ToolServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, command, args, env, enabled FROM tool_server_configs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolServerConfig
	for rows.Next() {
		cfg := &models.ToolServerConfig{}
		var args, env []byte
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.Command, &args, &env, &cfg.Enabled); err != nil {
			return nil, fmt.Errorf("scan tool server: %w", err)
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &cfg.Args); err != nil {
				return nil, fmt.Errorf("unmarshal args: %w", err)
			}
		}
		if len(env) > 0 {
			if err := json.Unmarshal(env, &cfg.Env); err != nil {
				return nil, fmt.Errorf("unmarshal env: %w", err)
			}
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetToolServerEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tool_server_configs SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("set tool server enabled: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteToolServer(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_server_configs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete tool server: %w", err)
	}
	return nil
}
