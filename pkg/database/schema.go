package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	schemasql "github.com/sleep4at/Smart-Home-System/pkg/database/sql"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
)

// EnsureSchema applies the embedded schema files in lexical order. Every
// statement uses IF NOT EXISTS guards so the call is safe on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	entries, err := fs.Glob(schemasql.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		ddl, err := fs.ReadFile(schemasql.Content, name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}
