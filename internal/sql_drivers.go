package internal

import (
	// Blank imports register the database/sql drivers the SQL publisher and
	// subscriber are configured with.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
