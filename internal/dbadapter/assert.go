package dbadapter

var (
	_ Adapter = (*PostgresAdapter)(nil)
	_ Adapter = (*MySQLAdapter)(nil)
	_ Adapter = (*OracleAdapter)(nil)
	_ Adapter = (*MSSQLAdapter)(nil)
)
