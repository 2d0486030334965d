package mailflow

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the dead-letter journal schema, with the SQLite
// variant under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
