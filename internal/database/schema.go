package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the embedded schema. All statements are idempotent
// (IF NOT EXISTS), so running this on every startup is safe.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	log.Println("Database schema ensured")
	return nil
}
