package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedFS embed.FS

// Run applies all pending goose migrations using a stdlib *sql.DB (goose
// does not speak pgx's native pool interface, so the caller opens a
// lib/pq-free stdlib connection via pgx's database/sql adapter for this
// one-shot call at boot).
func Run(db *sql.DB) error {
	goose.SetBaseFS(embedFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
