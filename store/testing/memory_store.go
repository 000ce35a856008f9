// Package testing provides an in-memory store.Store with transactions, failure injection
// and call counters for unit tests of the coherence layer.
//
//	mem := testing.NewMemoryStore(store.Table{Name: "users", Sort: "seq"})
//	svc, _ := coherence.NewService(cfg, mem, reader, log)
//	coord := coherence.NewCoordinator(mem, log)
//
// Queries are evaluated by rendering them and interpreting the WHERE clause, which
// supports `col = ?` and `col IN (...)` conditions joined by AND; Filter and sq.Eq
// produce exactly those.
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/gaborage/go-coherence/database/types"
	"github.com/gaborage/go-coherence/store"
)

var (
	// ErrDuplicateKey is returned by inserts of an existing key.
	ErrDuplicateKey = errors.New("memory store: duplicate key")

	// ErrUnsupportedQuery is returned for queries the store cannot evaluate.
	ErrUnsupportedQuery = errors.New("memory store: unsupported query")

	// ErrForeignTx is returned when a transaction from another Transactor is passed in.
	ErrForeignTx = errors.New("memory store: foreign transaction")
)

// MemoryStore is a store.Store and types.Transactor over a map of records. It is safe for
// concurrent use; transactions see their own staged writes until commit.
type MemoryStore struct {
	mu    sync.Mutex
	table store.Table
	rows  map[string]store.Record

	calls     map[string]int
	failures  map[string]error
	beginErr  error
	commitErr error

	newID func() string
}

var (
	_ store.Store      = (*MemoryStore)(nil)
	_ types.Transactor = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. Only table.Key and table.Sort are used.
func NewMemoryStore(table store.Table) *MemoryStore {
	if table.Key == "" {
		table.Key = "id"
	}
	return &MemoryStore{
		table:    table,
		rows:     make(map[string]store.Record),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		newID:    uuid.NewString,
	}
}

// WithFailure makes every call to method (e.g. "UpdateByID") return err.
func (m *MemoryStore) WithFailure(method string, err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
	return m
}

// WithBeginFailure makes Begin return err.
func (m *MemoryStore) WithBeginFailure(err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginErr = err
	return m
}

// WithCommitFailure makes Commit discard the staged writes and return err.
func (m *MemoryStore) WithCommitFailure(err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
	return m
}

// WithIDGenerator replaces the UUID generator used for inserts without a key.
func (m *MemoryStore) WithIDGenerator(next func() string) *MemoryStore {
	m.newID = next
	return m
}

// Seed stores rows directly, outside any transaction and without counting calls.
func (m *MemoryStore) Seed(rows ...store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[store.KeyString(r[m.table.Key])] = r.Clone()
	}
}

// Row returns the committed row id.
func (m *MemoryStore) Row(id string) (store.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r.Clone(), ok
}

// Len returns the number of committed rows.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Calls returns how many times method was called.
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// ResetCalls zeroes every call counter.
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// Tx is a MemoryStore transaction. Its Querier methods are not supported.
type Tx struct {
	owner  *MemoryStore
	staged map[string]store.Record
	done   bool
}

var _ types.Tx = (*Tx)(nil)

// Begin starts a transaction on a snapshot of the committed rows.
func (m *MemoryStore) Begin(ctx context.Context) (types.Tx, error) {
	return m.BeginTx(ctx, nil)
}

// BeginTx ignores opts.
func (m *MemoryStore) BeginTx(_ context.Context, _ *sql.TxOptions) (types.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Begin"]++
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	staged := make(map[string]store.Record, len(m.rows))
	for k, v := range m.rows {
		staged[k] = v.Clone()
	}
	return &Tx{owner: m, staged: staged}, nil
}

// Commit publishes the staged rows.
func (t *Tx) Commit() error {
	m := t.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Commit"]++
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if m.commitErr != nil {
		return m.commitErr
	}
	m.rows = t.staged
	return nil
}

// Rollback discards the staged rows.
func (t *Tx) Rollback() error {
	m := t.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Rollback"]++
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return nil
}

func (t *Tx) Query(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, ErrUnsupportedQuery
}

func (t *Tx) QueryRow(context.Context, string, ...any) types.Row {
	return errRow{}
}

func (t *Tx) Exec(context.Context, string, ...any) (sql.Result, error) {
	return nil, ErrUnsupportedQuery
}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrUnsupportedQuery }
func (errRow) Err() error        { return ErrUnsupportedQuery }

// begin counts the call, checks injected failures and returns the rows tx works on.
// The caller must hold m.mu.
func (m *MemoryStore) begin(method string, tx types.Tx) (map[string]store.Record, error) {
	m.calls[method]++
	if err := m.failures[method]; err != nil {
		return nil, err
	}
	if tx == nil {
		return m.rows, nil
	}
	t, ok := tx.(*Tx)
	if !ok || t.owner != m {
		return nil, ErrForeignTx
	}
	if t.done {
		return nil, sql.ErrTxDone
	}
	return t.staged, nil
}

func (m *MemoryStore) Insert(ctx context.Context, tx types.Tx, data store.Record) (string, error) {
	ids, err := m.insert("Insert", tx, []store.Record{data})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *MemoryStore) MInsert(ctx context.Context, tx types.Tx, rows []store.Record) ([]string, error) {
	return m.insert("MInsert", tx, rows)
}

func (m *MemoryStore) insert(method string, tx types.Tx, rows []store.Record) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin(method, tx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	prepared := make(map[string]store.Record, len(rows))
	for _, r := range rows {
		rec := r.Clone()
		if rec == nil {
			rec = store.Record{}
		}
		id := store.KeyString(rec[m.table.Key])
		if id == "" {
			id = m.newID()
		}
		rec[m.table.Key] = id
		if _, exists := target[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, id)
		}
		if _, exists := prepared[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, id)
		}
		prepared[id] = rec
		ids = append(ids, id)
	}
	for id, rec := range prepared {
		target[id] = rec
	}
	return ids, nil
}

func (m *MemoryStore) patch(rec, data store.Record) {
	for k, v := range data {
		if k != m.table.Key {
			rec[k] = v
		}
	}
}

func (m *MemoryStore) update(method string, tx types.Tx, ids []string, query store.Query, data store.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin(method, tx)
	if err != nil {
		return 0, err
	}
	if !hasColumns(data, m.table.Key) {
		return 0, store.ErrNoColumns
	}
	match, err := compile(query)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, id := range unique(ids) {
		rec, ok := target[id]
		if !ok || !match(rec) {
			continue
		}
		rec = rec.Clone()
		m.patch(rec, data)
		target[id] = rec
		n++
	}
	return n, nil
}

func (m *MemoryStore) UpdateByID(ctx context.Context, tx types.Tx, id string, data store.Record) (int64, error) {
	return m.update("UpdateByID", tx, []string{id}, nil, data)
}

func (m *MemoryStore) UpdateByIDs(ctx context.Context, tx types.Tx, ids []string, data store.Record) (int64, error) {
	if len(ids) == 0 {
		return 0, store.ErrEmptyIDs
	}
	return m.update("UpdateByIDs", tx, ids, nil, data)
}

func (m *MemoryStore) UpdateForQueryByID(ctx context.Context, tx types.Tx, id string, query store.Query, data store.Record) (int64, error) {
	return m.update("UpdateForQueryByID", tx, []string{id}, query, data)
}

func (m *MemoryStore) UpsertByID(ctx context.Context, tx types.Tx, id string, data store.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("UpsertByID", tx)
	if err != nil {
		return 0, err
	}

	rec, ok := target[id]
	if ok {
		rec = rec.Clone()
	} else {
		rec = store.Record{m.table.Key: id}
	}
	m.patch(rec, data)
	target[id] = rec
	return 1, nil
}

func (m *MemoryStore) DeleteByIDs(ctx context.Context, tx types.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, store.ErrEmptyIDs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("DeleteByIDs", tx)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, id := range unique(ids) {
		if _, ok := target[id]; ok {
			delete(target, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Truncate(ctx context.Context, tx types.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("Truncate", tx)
	if err != nil {
		return err
	}
	for id := range target {
		delete(target, id)
	}
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, tx types.Tx, id string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("GetByID", tx)
	if err != nil {
		return nil, err
	}
	rec, ok := target[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) GetIDBy(ctx context.Context, tx types.Tx, field string, value any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("GetIDBy", tx)
	if err != nil {
		return "", err
	}
	want := store.KeyString(value)
	for _, id := range sortedIDs(target) {
		if store.KeyString(target[id][field]) == want {
			return id, nil
		}
	}
	return "", store.ErrNotFound
}

func (m *MemoryStore) MGetByIDs(ctx context.Context, tx types.Tx, ids []string) (map[string]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("MGetByIDs", tx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Record, len(ids))
	for _, id := range ids {
		if rec, ok := target[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

// selected returns the ids matching query in list order: descending sort column when the
// table has one, ascending key otherwise.
func (m *MemoryStore) selected(target map[string]store.Record, query store.Query) ([]string, error) {
	match, err := compile(query)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, id := range sortedIDs(target) {
		if match(target[id]) {
			ids = append(ids, id)
		}
	}
	if m.table.Sort != "" {
		sort.SliceStable(ids, func(i, j int) bool {
			return sortValue(target[ids[i]], m.table.Sort) > sortValue(target[ids[j]], m.table.Sort)
		})
	}
	return ids, nil
}

func (m *MemoryStore) SelectIDList(ctx context.Context, tx types.Tx, query store.Query) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("SelectIDList", tx)
	if err != nil {
		return nil, err
	}
	return m.selected(target, query)
}

func (m *MemoryStore) SelectListCount(ctx context.Context, tx types.Tx, query store.Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("SelectListCount", tx)
	if err != nil {
		return 0, err
	}
	ids, err := m.selected(target, query)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (m *MemoryStore) SelectIDSortList(ctx context.Context, tx types.Tx, pager store.Pager, query store.Query) (store.SortList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("SelectIDSortList", tx)
	if err != nil {
		return store.SortList{}, err
	}
	if m.table.Sort == "" {
		return store.SortList{}, store.ErrNoSortColumn
	}
	ids, err := m.selected(target, query)
	if err != nil {
		return store.SortList{}, err
	}

	rows := pager.Rows
	if rows <= 0 {
		rows = store.DefaultRows
	}
	list := store.SortList{List: []string{}, Rows: rows}
	for _, id := range ids {
		v := sortValue(target[id], m.table.Sort)
		if pager.Last > 0 && v >= pager.Last {
			continue
		}
		if len(list.List) == rows {
			list.More = true
			break
		}
		list.List = append(list.List, id)
		list.Last = v
	}
	return list, nil
}

func (m *MemoryStore) SelectIDViewList(ctx context.Context, tx types.Tx, pager store.Pager, query store.Query, total int64) (store.ViewList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("SelectIDViewList", tx)
	if err != nil {
		return store.ViewList{}, err
	}
	ids, err := m.selected(target, query)
	if err != nil {
		return store.ViewList{}, err
	}

	rows, page := pager.Rows, pager.Page
	if rows <= 0 {
		rows = store.DefaultRows
	}
	if page <= 0 {
		page = 1
	}
	start := min((page-1)*rows, len(ids))
	end := min(start+rows, len(ids))
	return store.ViewList{
		List: append([]string{}, ids[start:end]...),
		Page: store.PageInfo{Rows: rows, Page: page, Total: total, Pages: store.Pages(total, rows)},
	}, nil
}

func (m *MemoryStore) CountBy(ctx context.Context, tx types.Tx, field string, values []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.begin("CountBy", tx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(values))
	for _, v := range values {
		wanted[v] = struct{}{}
	}
	out := make(map[string]int64, len(values))
	for _, rec := range target {
		v := store.KeyString(rec[field])
		if _, ok := wanted[v]; ok {
			out[v]++
		}
	}
	return out, nil
}

var (
	eqCond = regexp.MustCompile(`^(?:\w+\.)?(\w+) = \?$`)
	inCond = regexp.MustCompile(`^(?:\w+\.)?(\w+) IN \((\?(?:,\?)*)\)$`)
)

// compile turns query into a row predicate.
func compile(query store.Query) (func(store.Record) bool, error) {
	all := func(store.Record) bool { return true }
	if query == nil {
		return all, nil
	}

	sqlStr, args, err := query(sq.Select("*").From("t")).ToSql()
	if err != nil {
		return nil, err
	}
	const base = "SELECT * FROM t"
	if sqlStr == base {
		return all, nil
	}
	where, ok := strings.CutPrefix(sqlStr, base+" WHERE ")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, sqlStr)
	}

	type cond struct {
		column string
		values map[string]struct{}
	}
	var conds []cond
	for _, part := range strings.Split(where, " AND ") {
		var (
			column string
			n      int
		)
		switch {
		case eqCond.MatchString(part):
			column, n = eqCond.FindStringSubmatch(part)[1], 1
		case inCond.MatchString(part):
			sub := inCond.FindStringSubmatch(part)
			column, n = sub[1], strings.Count(sub[2], "?")
		case part == "(1=0)":
			return func(store.Record) bool { return false }, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, part)
		}
		if len(args) < n {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, sqlStr)
		}
		c := cond{column: column, values: make(map[string]struct{}, n)}
		for _, a := range args[:n] {
			c.values[store.KeyString(a)] = struct{}{}
		}
		args = args[n:]
		conds = append(conds, c)
	}

	return func(rec store.Record) bool {
		for _, c := range conds {
			if _, ok := c.values[store.KeyString(rec[c.column])]; !ok {
				return false
			}
		}
		return true
	}, nil
}

func hasColumns(data store.Record, key string) bool {
	for k := range data {
		if k != key {
			return true
		}
	}
	return false
}

func sortedIDs(rows map[string]store.Record) []string {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortValue(rec store.Record, column string) int64 {
	switch v := rec[column].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v) //nolint:gosec // test data
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
