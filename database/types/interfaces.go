// Package types holds the database contracts shared by the store, the coherence layer
// and the concrete drivers. Keeping them apart from the drivers avoids import cycles
// and lets tests substitute fakes.
//
//nolint:revive // generic package name kept for symmetry with the driver packages
package types

import (
	"context"
	"database/sql"
	"errors"
)

// PostgreSQL is the vendor identifier of the postgresql driver.
const PostgreSQL = "postgresql"

// Row is a single result row.
type Row interface {
	Scan(dest ...any) error
	Err() error
}

type sqlRowAdapter struct {
	row *sql.Row
}

// NewRowFromSQL wraps row. It returns nil for a nil row.
func NewRowFromSQL(row *sql.Row) Row {
	if row == nil {
		return nil
	}
	return &sqlRowAdapter{row: row}
}

func (r *sqlRowAdapter) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return errors.New("sqlRowAdapter: underlying sql.Row is nil")
	}
	return r.row.Scan(dest...)
}

func (r *sqlRowAdapter) Err() error {
	if r == nil || r.row == nil {
		return errors.New("sqlRowAdapter: underlying sql.Row is nil")
	}
	return r.row.Err()
}

// Querier executes statements. Both the pool and a transaction are Queriers, so code
// written against it runs unchanged inside or outside a transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx is an open database transaction.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Transactor starts transactions.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// Interface is a pooled database connection.
type Interface interface {
	Querier
	Transactor

	Health(ctx context.Context) error
	Stats() (map[string]any, error)
	Close() error
	DatabaseType() string
}
