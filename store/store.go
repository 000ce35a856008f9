// Package store defines the relational access the coherence layer is built on and a
// PostgreSQL implementation of it. Every method takes the transaction to run on; a nil
// transaction runs on the connection pool.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/gaborage/go-coherence/database/types"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("store: no rows")

	// ErrNoColumns is returned by writes whose payload has nothing to set.
	ErrNoColumns = errors.New("store: no columns to write")

	// ErrEmptyIDs is returned by batch writes given no ids.
	ErrEmptyIDs = errors.New("store: empty id list")
)

// ColumnError reports a payload or query column that is not a valid identifier or is not
// part of the table definition.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("store: unknown column %q for table %s", e.Column, e.Table)
}

// Record is one row: column name to value.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Pick returns the subset of r named by columns. An empty column list returns r as is.
func (r Record) Pick(columns []string) Record {
	if r == nil || len(columns) == 0 {
		return r
	}
	out := make(Record, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Query narrows a select. It receives a builder with the table and projection set and
// adds conditions to it.
type Query func(sq.SelectBuilder) sq.SelectBuilder

func (q Query) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if q == nil {
		return b
	}
	return q(b)
}

// Pager selects one window of a list. Cursor lists use Rows and Last, page lists use
// Rows and Page (1-based).
type Pager struct {
	Rows int   `cbor:"rows" json:"rows"`
	Last int64 `cbor:"last" json:"last"`
	Page int   `cbor:"page" json:"page"`
}

// DefaultRows is the window size used when Pager.Rows is not positive.
const DefaultRows = 20

func (p Pager) rows() int {
	if p.Rows <= 0 {
		return DefaultRows
	}
	return p.Rows
}

func (p Pager) page() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// SortList is a cursor-paginated id list. Last is the sort value of the final row and is
// the cursor of the next window; More reports whether such a window exists.
type SortList struct {
	List []string `cbor:"list"`
	Rows int      `cbor:"rows"`
	Last int64    `cbor:"last"`
	More bool     `cbor:"more"`
}

// PageInfo describes a page-numbered window.
type PageInfo struct {
	Rows  int   `cbor:"rows"`
	Page  int   `cbor:"page"`
	Total int64 `cbor:"total"`
	Pages int   `cbor:"pages"`
}

// ViewList is a page-numbered id list.
type ViewList struct {
	List []string `cbor:"list"`
	Page PageInfo `cbor:"page"`
}

// Store is the relational access consumed by the coherence layer.
type Store interface {
	// Insert writes one row and returns its key, generating one when data has none.
	Insert(ctx context.Context, tx types.Tx, data Record) (string, error)
	MInsert(ctx context.Context, tx types.Tx, rows []Record) ([]string, error)

	UpdateByID(ctx context.Context, tx types.Tx, id string, data Record) (int64, error)
	UpdateByIDs(ctx context.Context, tx types.Tx, ids []string, data Record) (int64, error)

	// UpdateForQueryByID updates row id only when it also matches query.
	UpdateForQueryByID(ctx context.Context, tx types.Tx, id string, query Query, data Record) (int64, error)
	UpsertByID(ctx context.Context, tx types.Tx, id string, data Record) (int64, error)
	DeleteByIDs(ctx context.Context, tx types.Tx, ids []string) (int64, error)
	Truncate(ctx context.Context, tx types.Tx) error

	// GetByID returns ErrNotFound when no row has key id.
	GetByID(ctx context.Context, tx types.Tx, id string) (Record, error)

	// GetIDBy returns the key of the first row whose field equals value, or ErrNotFound.
	GetIDBy(ctx context.Context, tx types.Tx, field string, value any) (string, error)

	// MGetByIDs returns the rows found, keyed by id. Missing ids are absent.
	MGetByIDs(ctx context.Context, tx types.Tx, ids []string) (map[string]Record, error)

	SelectIDList(ctx context.Context, tx types.Tx, query Query) ([]string, error)
	SelectListCount(ctx context.Context, tx types.Tx, query Query) (int64, error)
	SelectIDSortList(ctx context.Context, tx types.Tx, pager Pager, query Query) (SortList, error)

	// SelectIDViewList returns one page of ids. total is the row count of the whole list,
	// computed by the caller, and only feeds PageInfo.
	SelectIDViewList(ctx context.Context, tx types.Tx, pager Pager, query Query, total int64) (ViewList, error)

	// CountBy groups rows by field and returns the row count of each requested value.
	// Values with no rows are absent.
	CountBy(ctx context.Context, tx types.Tx, field string, values []string) (map[string]int64, error)
}

// Pages returns the number of pages of size rows needed for total items.
func Pages(total int64, rows int) int {
	if total <= 0 || rows <= 0 {
		return 0
	}
	return int((total + int64(rows) - 1) / int64(rows))
}
