package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
)

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSQLite string

// Migrate creates the record store tables if they do not exist.
func Migrate(ctx context.Context, dw *circuitbreaker.DatabaseWrapper) error {
	schema := schemaSQLite
	if IsPostgres(dw.DB()) {
		schema = schemaPostgres
	}
	return dw.Do(ctx, func(db *sqlx.DB) error {
		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}
