// Package migrations embeds the account-store schema and applies it with
// goose. Only the sqlite backend runs migrations; the Supabase schema is
// owned by the provisioning frontend.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded account-store migration files.
//
//go:embed *.sql
var FS embed.FS

// Run brings the accounts database up to the latest schema version.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply account migrations: %w", err)
	}

	return nil
}
