package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/gaborage/go-coherence/database/types"
)

// ErrNoSortColumn is returned by cursor lists on tables without a sort column.
var ErrNoSortColumn = errors.New("store: table has no sort column")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Table describes the table an SQLStore works on.
type Table struct {
	Name string

	// Key is the primary key column. Defaults to "id".
	Key string

	// Columns restricts projections and writes to the listed columns. Empty selects *
	// and accepts any well-formed column name.
	Columns []string

	// Sort is the monotonically increasing integer column behind cursor lists.
	Sort string
}

// SQLStore implements Store on PostgreSQL through squirrel.
type SQLStore struct {
	db      types.Querier
	table   Table
	columns map[string]struct{}
	builder sq.StatementBuilderType
	newID   func() string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore validates table and returns a store running on db.
func NewSQLStore(db types.Querier, table Table) (*SQLStore, error) {
	if table.Key == "" {
		table.Key = "id"
	}
	for _, name := range append([]string{table.Name, table.Key}, table.Columns...) {
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("store: invalid identifier %q", name)
		}
	}
	if table.Sort != "" && !identifier.MatchString(table.Sort) {
		return nil, fmt.Errorf("store: invalid sort column %q", table.Sort)
	}

	s := &SQLStore{
		db:      db,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		newID:   uuid.NewString,
	}
	if len(table.Columns) > 0 {
		s.columns = make(map[string]struct{}, len(table.Columns)+1)
		for _, c := range table.Columns {
			s.columns[c] = struct{}{}
		}
		s.columns[table.Key] = struct{}{}
	}
	return s, nil
}

// Table returns the table definition with defaults applied.
func (s *SQLStore) Table() Table {
	return s.table
}

func (s *SQLStore) querier(tx types.Tx) types.Querier {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SQLStore) checkColumn(column string) error {
	if !identifier.MatchString(column) {
		return &ColumnError{Table: s.table.Name, Column: column}
	}
	if s.columns != nil {
		if _, ok := s.columns[column]; !ok {
			return &ColumnError{Table: s.table.Name, Column: column}
		}
	}
	return nil
}

func (s *SQLStore) projection() []string {
	if len(s.table.Columns) == 0 {
		return []string{"*"}
	}
	cols := make([]string, 0, len(s.table.Columns)+1)
	if !slices.Contains(s.table.Columns, s.table.Key) {
		cols = append(cols, s.table.Key)
	}
	return append(cols, s.table.Columns...)
}

func (s *SQLStore) exec(ctx context.Context, tx types.Tx, stmt sq.Sqlizer) (int64, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}
	res, err := s.querier(tx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: exec on %s: %w", s.table.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected on %s: %w", s.table.Name, err)
	}
	return n, nil
}

// Insert writes data and returns its key.
func (s *SQLStore) Insert(ctx context.Context, tx types.Tx, data Record) (string, error) {
	ids, err := s.MInsert(ctx, tx, []Record{data})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// MInsert writes all rows in one statement. Rows missing a key get a random UUID; columns
// present in some rows only are written as DEFAULT elsewhere.
func (s *SQLStore) MInsert(ctx context.Context, tx types.Tx, rows []Record) ([]string, error) {
	if len(rows) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(rows))
	prepared := make([]Record, len(rows))
	seen := make(map[string]any)
	for i, row := range rows {
		rec := row.Clone()
		if rec == nil {
			rec = Record{}
		}
		id := KeyString(rec[s.table.Key])
		if id == "" {
			id = s.newID()
		}
		rec[s.table.Key] = id
		for c := range rec {
			if err := s.checkColumn(c); err != nil {
				return nil, err
			}
			seen[c] = nil
		}
		ids[i] = id
		prepared[i] = rec
	}

	cols := sortedKeys(seen)
	stmt := s.builder.Insert(s.table.Name).Columns(cols...)
	for _, rec := range prepared {
		stmt = stmt.Values(valuesByKeyOrder(rec, cols)...)
	}

	if _, err := s.exec(ctx, tx, stmt); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLStore) setMap(data Record) (map[string]any, error) {
	set := make(map[string]any, len(data))
	for c, v := range data {
		if c == s.table.Key {
			continue
		}
		if err := s.checkColumn(c); err != nil {
			return nil, err
		}
		set[c] = v
	}
	if len(set) == 0 {
		return nil, ErrNoColumns
	}
	return set, nil
}

// UpdateByID sets data on row id. The key column in data is ignored.
func (s *SQLStore) UpdateByID(ctx context.Context, tx types.Tx, id string, data Record) (int64, error) {
	set, err := s.setMap(data)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, tx, s.builder.Update(s.table.Name).SetMap(set).Where(sq.Eq{s.table.Key: id}))
}

// UpdateByIDs sets data on every row in ids.
func (s *SQLStore) UpdateByIDs(ctx context.Context, tx types.Tx, ids []string, data Record) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrEmptyIDs
	}
	set, err := s.setMap(data)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, tx, s.builder.Update(s.table.Name).SetMap(set).Where(sq.Eq{s.table.Key: ids}))
}

// UpdateForQueryByID sets data on row id if the row also satisfies query, which is
// evaluated as a sub-select on the same table.
func (s *SQLStore) UpdateForQueryByID(ctx context.Context, tx types.Tx, id string, query Query, data Record) (int64, error) {
	set, err := s.setMap(data)
	if err != nil {
		return 0, err
	}

	stmt := s.builder.Update(s.table.Name).SetMap(set).Where(sq.Eq{s.table.Key: id})
	if query != nil {
		// The sub-select keeps "?" placeholders; the outer statement numbers them all.
		sub := query(sq.Select(s.table.Key).From(s.table.Name))
		stmt = stmt.Where(sq.Expr(s.table.Key+" IN (?)", sub))
	}
	return s.exec(ctx, tx, stmt)
}

// UpsertByID inserts data under id, or updates the existing row's columns.
func (s *SQLStore) UpsertByID(ctx context.Context, tx types.Tx, id string, data Record) (int64, error) {
	rec := data.Clone()
	if rec == nil {
		rec = Record{}
	}
	rec[s.table.Key] = id

	update := make([]string, 0, len(rec))
	values := make(map[string]any, len(rec))
	for c, v := range rec {
		if err := s.checkColumn(c); err != nil {
			return 0, err
		}
		values[c] = v
		if c != s.table.Key {
			update = append(update, c)
		}
	}
	sort.Strings(update)

	cols := sortedKeys(values)
	conflict := "ON CONFLICT (" + s.table.Key + ") DO NOTHING"
	if len(update) > 0 {
		parts := make([]string, len(update))
		for i, c := range update {
			parts[i] = c + " = EXCLUDED." + c
		}
		conflict = "ON CONFLICT (" + s.table.Key + ") DO UPDATE SET " + strings.Join(parts, ", ")
	}

	stmt := s.builder.Insert(s.table.Name).
		Columns(cols...).
		Values(valuesByKeyOrder(values, cols)...).
		Suffix(conflict)
	return s.exec(ctx, tx, stmt)
}

// DeleteByIDs deletes every row in ids.
func (s *SQLStore) DeleteByIDs(ctx context.Context, tx types.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrEmptyIDs
	}
	return s.exec(ctx, tx, s.builder.Delete(s.table.Name).Where(sq.Eq{s.table.Key: ids}))
}

// Truncate empties the table.
func (s *SQLStore) Truncate(ctx context.Context, tx types.Tx) error {
	_, err := s.querier(tx).Exec(ctx, "TRUNCATE TABLE "+s.table.Name)
	if err != nil {
		return fmt.Errorf("store: truncate %s: %w", s.table.Name, err)
	}
	return nil
}

// GetByID returns row id.
func (s *SQLStore) GetByID(ctx context.Context, tx types.Tx, id string) (Record, error) {
	stmt := s.builder.Select(s.projection()...).From(s.table.Name).Where(sq.Eq{s.table.Key: id}).Limit(1)
	recs, err := s.selectRecords(ctx, tx, stmt)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// GetIDBy returns the key of the first row whose field equals value.
func (s *SQLStore) GetIDBy(ctx context.Context, tx types.Tx, field string, value any) (string, error) {
	if err := s.checkColumn(field); err != nil {
		return "", err
	}
	query, args, err := s.builder.Select(s.table.Key).From(s.table.Name).Where(sq.Eq{field: value}).Limit(1).ToSql()
	if err != nil {
		return "", fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}

	var id any
	if err := s.querier(tx).QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: query %s: %w", s.table.Name, err)
	}
	return KeyString(id), nil
}

// MGetByIDs returns the rows found among ids.
func (s *SQLStore) MGetByIDs(ctx context.Context, tx types.Tx, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	stmt := s.builder.Select(s.projection()...).From(s.table.Name).Where(sq.Eq{s.table.Key: ids})
	recs, err := s.selectRecords(ctx, tx, stmt)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out[KeyString(rec[s.table.Key])] = rec
	}
	return out, nil
}

// SelectIDList returns the keys of every row matching query.
func (s *SQLStore) SelectIDList(ctx context.Context, tx types.Tx, query Query) ([]string, error) {
	stmt := query.apply(s.builder.Select(s.table.Key).From(s.table.Name))
	return s.selectIDs(ctx, tx, stmt)
}

// SelectListCount counts the rows matching query.
func (s *SQLStore) SelectListCount(ctx context.Context, tx types.Tx, query Query) (int64, error) {
	stmt := query.apply(s.builder.Select("COUNT(*)").From(s.table.Name))
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}

	var n int64
	if err := s.querier(tx).QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", s.table.Name, err)
	}
	return n, nil
}

// SelectIDSortList returns up to pager.Rows keys in descending sort order, starting
// below pager.Last when it is positive.
func (s *SQLStore) SelectIDSortList(ctx context.Context, tx types.Tx, pager Pager, query Query) (SortList, error) {
	if s.table.Sort == "" {
		return SortList{}, ErrNoSortColumn
	}
	rows := pager.rows()

	stmt := query.apply(s.builder.Select(s.table.Key, s.table.Sort).From(s.table.Name))
	if pager.Last > 0 {
		stmt = stmt.Where(sq.Lt{s.table.Sort: pager.Last})
	}
	stmt = stmt.OrderBy(s.table.Sort + " DESC").Limit(uint64(rows + 1)) //nolint:gosec // rows is positive

	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return SortList{}, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}
	res, err := s.querier(tx).Query(ctx, sqlStr, args...)
	if err != nil {
		return SortList{}, fmt.Errorf("store: query %s: %w", s.table.Name, err)
	}
	defer res.Close()

	list := SortList{List: []string{}, Rows: rows}
	for res.Next() {
		var (
			id   any
			last int64
		)
		if err := res.Scan(&id, &last); err != nil {
			return SortList{}, fmt.Errorf("store: scan %s: %w", s.table.Name, err)
		}
		if len(list.List) == rows {
			list.More = true
			break
		}
		list.List = append(list.List, KeyString(id))
		list.Last = last
	}
	if err := res.Err(); err != nil {
		return SortList{}, fmt.Errorf("store: rows %s: %w", s.table.Name, err)
	}
	return list, nil
}

// SelectIDViewList returns page pager.Page of the keys matching query.
func (s *SQLStore) SelectIDViewList(ctx context.Context, tx types.Tx, pager Pager, query Query, total int64) (ViewList, error) {
	rows, page := pager.rows(), pager.page()

	order := s.table.Key + " ASC"
	if s.table.Sort != "" {
		order = s.table.Sort + " DESC"
	}
	stmt := query.apply(s.builder.Select(s.table.Key).From(s.table.Name)).
		OrderBy(order).
		Limit(uint64(rows)).               //nolint:gosec // rows is positive
		Offset(uint64((page - 1) * rows)) //nolint:gosec // page is positive

	ids, err := s.selectIDs(ctx, tx, stmt)
	if err != nil {
		return ViewList{}, err
	}
	return ViewList{
		List: ids,
		Page: PageInfo{Rows: rows, Page: page, Total: total, Pages: Pages(total, rows)},
	}, nil
}

// CountBy returns the number of rows per value of field.
func (s *SQLStore) CountBy(ctx context.Context, tx types.Tx, field string, values []string) (map[string]int64, error) {
	out := make(map[string]int64, len(values))
	if len(values) == 0 {
		return out, nil
	}
	if err := s.checkColumn(field); err != nil {
		return nil, err
	}

	sqlStr, args, err := s.builder.Select(field, "COUNT(*)").
		From(s.table.Name).
		Where(sq.Eq{field: values}).
		GroupBy(field).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}
	res, err := s.querier(tx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", s.table.Name, err)
	}
	defer res.Close()

	for res.Next() {
		var (
			value any
			n     int64
		)
		if err := res.Scan(&value, &n); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", s.table.Name, err)
		}
		out[KeyString(value)] = n
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store: rows %s: %w", s.table.Name, err)
	}
	return out, nil
}

func (s *SQLStore) selectIDs(ctx context.Context, tx types.Tx, stmt sq.SelectBuilder) ([]string, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}
	res, err := s.querier(tx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", s.table.Name, err)
	}
	defer res.Close()

	ids := []string{}
	for res.Next() {
		var id any
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", s.table.Name, err)
		}
		ids = append(ids, KeyString(id))
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store: rows %s: %w", s.table.Name, err)
	}
	return ids, nil
}

func (s *SQLStore) selectRecords(ctx context.Context, tx types.Tx, stmt sq.SelectBuilder) ([]Record, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build statement on %s: %w", s.table.Name, err)
	}
	res, err := s.querier(tx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", s.table.Name, err)
	}
	defer res.Close()

	recs, err := scanRecords(res)
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", s.table.Name, err)
	}
	return recs, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// KeyString renders a key or field value as a cache member. Nil renders as "".
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valuesByKeyOrder returns the values of m in keys order, DEFAULT for missing keys.
func valuesByKeyOrder(m map[string]any, keys []string) []any {
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			vals = append(vals, sq.Expr("DEFAULT"))
			continue
		}
		vals = append(vals, v)
	}
	return vals
}
