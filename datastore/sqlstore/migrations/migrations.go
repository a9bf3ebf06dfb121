// Package migrations holds the metadata store schema, one SQL file per
// revision per dialect.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/remind101/migrate"
)

// Table is the migration-tracking table.
const Table = "pkgmirror_migrations"

//go:embed */*.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := fs.ReadFile(n)
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// For returns the migration list for a goqu dialect name.
func For(dialect string) ([]migrate.Migration, error) {
	var dir string
	switch dialect {
	case "sqlite3":
		dir = "sqlite"
	case "postgres":
		dir = "postgres"
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	return []migrate.Migration{
		{
			ID: 1,
			Up: runFile(dir + "/01-init.sql"),
		},
	}, nil
}

// Run applies pending migrations.
func Run(db *sql.DB, dialect string) error {
	ms, err := For(dialect)
	if err != nil {
		return err
	}
	m := migrate.NewMigrator(db)
	m.Table = Table
	return m.Exec(migrate.Up, ms...)
}
