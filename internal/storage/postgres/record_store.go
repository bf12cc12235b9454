// Package postgres implements storage.RecordStore using PostgreSQL via
// lib/pq. Use this backend when the claims data lives in a shared database
// rather than a local file.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
)

// dialect implements storage.Dialect for PostgreSQL.
type dialect struct{}

func (dialect) Name() string { return "postgres" }

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (dialect) ColumnType(t meta.ElementType) string {
	switch t {
	case meta.TypeInteger:
		return "BIGINT"
	case meta.TypeDecimal:
		return "DOUBLE PRECISION"
	case meta.TypeBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (dialect) LimitOffset(limit, offset int) string {
	var clause string
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

// NewRecordStore connects to PostgreSQL, verifies the connection, and
// creates the schema derived from the entity model.
func NewRecordStore(dsn string, model *meta.Model) (*storage.SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	store := storage.NewSQLStore(db, model, dialect{})
	if err := store.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
