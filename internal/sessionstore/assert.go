package sessionstore

import "github.com/relaydb/dbagent/internal/audit"

var (
	_ Store       = (*PostgresStore)(nil)
	_ audit.Store = (*PostgresStore)(nil)
)
