// Package sqlite implements storage.RecordStore using SQLite
// (modernc.org/sqlite, pure Go). This is the default backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
)

// dialect implements storage.Dialect for SQLite.
type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Placeholder(int) string { return "?" }

func (dialect) ColumnType(t meta.ElementType) string {
	switch t {
	case meta.TypeInteger:
		return "INTEGER"
	case meta.TypeDecimal:
		return "REAL"
	case meta.TypeBool:
		return "INTEGER"
	default:
		// uuid, string, date, timestamp and serialized compositions are all
		// stored as text.
		return "TEXT"
	}
}

func (dialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

// NewRecordStore opens a SQLite database, configures WAL mode, and creates
// the schema derived from the entity model.
func NewRecordStore(dsn string, model *meta.Model) (*storage.SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	store := storage.NewSQLStore(db, model, dialect{})
	if err := store.CreateSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
