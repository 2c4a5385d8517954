package dbadapter

import (
	"context"
	"fmt"

	"github.com/relaydb/dbagent/internal/models"
)

// New opens an Adapter for conn using a cleartext password already
// decrypted by the caller (see internal/credential).
//
// PostgreSQL, GaussDB, and MySQL connections are opened directly: their
// drivers (lib/pq, go-sql-driver/mysql) are part of this module. Oracle
// and SQL Server are not — call NewOracleAdapter / NewMSSQLAdapter
// directly with a *sql.DB opened against whatever driver the binary has
// registered for them.
func New(ctx context.Context, conn *models.Connection, password string) (Adapter, error) {
	switch conn.Engine {
	case models.EnginePostgreSQL:
		return NewPostgresAdapter(ctx, PostgresConfig{
			Host: conn.Host, Port: conn.Port, User: conn.User,
			Password: password, Database: conn.Database, SSLMode: "disable",
		})
	case models.EngineGaussDB:
		return NewPostgresAdapter(ctx, PostgresConfig{
			Host: conn.Host, Port: conn.Port, User: conn.User,
			Password: password, Database: conn.Database, SSLMode: "disable",
			IsGaussDB: true,
		})
	case models.EngineMySQL:
		return NewMySQLAdapter(ctx, MySQLConfig{
			Host: conn.Host, Port: conn.Port, User: conn.User,
			Password: password, Database: conn.Database,
		})
	case models.EngineOracle, models.EngineSQLServer:
		return nil, fmt.Errorf("dbadapter: %s requires an externally opened *sql.DB; call New%sAdapter directly", conn.Engine, titleCase(string(conn.Engine)))
	default:
		return nil, fmt.Errorf("dbadapter: unsupported engine %q", conn.Engine)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
