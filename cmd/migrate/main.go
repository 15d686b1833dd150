package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"wgwatch/migrations"
)

// migrate manages the schema of the local sqlite accounts database. It is
// only needed for the sqlite store backend; the Supabase schema lives with
// the provisioning frontend.
func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/accounts.db"), "path to the sqlite accounts database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, `Usage: migrate [-db path] <command>

Manages the sqlite accounts database schema.

Commands:
  up          Apply all pending migrations
  up-one      Apply the next pending migration
  down        Roll back the last migration
  status      Show migration status
  version     Show current schema version
  reset       Roll back everything
`)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
