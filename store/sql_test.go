package store

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-coherence/database/postgresql"
	"github.com/gaborage/go-coherence/logger"
)

func newTestStore(t *testing.T, table Table) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	s, err := NewSQLStore(postgresql.FromDB(db, logger.Nop()), table)
	require.NoError(t, err)
	s.newID = func() string { return "gen-1" }
	return s, mock
}

func TestNewSQLStore(t *testing.T) {
	s, err := NewSQLStore(nil, Table{Name: "users"})
	require.NoError(t, err)
	assert.Equal(t, "id", s.Table().Key)

	_, err = NewSQLStore(nil, Table{Name: "users; drop"})
	assert.Error(t, err)

	_, err = NewSQLStore(nil, Table{Name: "users", Columns: []string{"name", "bad col"}})
	assert.Error(t, err)

	_, err = NewSQLStore(nil, Table{Name: "users", Sort: "1seq"})
	assert.Error(t, err)
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("INSERT INTO users (id,name) VALUES ($1,$2)").
		WithArgs("gen-1", "ann").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.Insert(ctx, nil, Record{"name": "ann"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", id)
}

func TestMInsertFillsMissingColumnsWithDefault(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("INSERT INTO users (email,id,name) VALUES (DEFAULT,$1,$2),($3,$4,DEFAULT)").
		WithArgs("a", "ann", "b@x", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))

	ids, err := s.MInsert(ctx, nil, []Record{
		{"id": "a", "name": "ann"},
		{"id": "b", "email": "b@x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = s.MInsert(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertRejectsUnknownColumn(t *testing.T) {
	s, _ := newTestStore(t, Table{Name: "users", Columns: []string{"name"}})

	_, err := s.Insert(context.Background(), nil, Record{"name": "ann", "role": "admin"})

	var colErr *ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "role", colErr.Column)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("UPDATE users SET name = $1, status = $2 WHERE id = $3").
		WithArgs("bob", "B", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := s.UpdateByID(ctx, nil, "1", Record{"id": "ignored", "name": "bob", "status": "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("UPDATE users SET status = $1 WHERE id IN ($2,$3)").
		WithArgs("B", "1", "2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err = s.UpdateByIDs(ctx, nil, []string{"1", "2"}, Record{"status": "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.UpdateByIDs(ctx, nil, nil, Record{"status": "B"})
	assert.ErrorIs(t, err, ErrEmptyIDs)

	_, err = s.UpdateByID(ctx, nil, "1", Record{"id": "1"})
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestUpdateForQueryByID(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("UPDATE users SET status = $1 WHERE id = $2 AND id IN (SELECT id FROM users WHERE status = $3)").
		WithArgs("B", "1", "A").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.UpdateForQueryByID(ctx, nil, "1", func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.Eq{"status": "A"})
	}, Record{"status": "B"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertByID(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("INSERT INTO users (id,name) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name").
		WithArgs("1", "ann").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := s.UpsertByID(ctx, nil, "1", Record{"name": "ann"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING").
		WithArgs("2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = s.UpsertByID(ctx, nil, "2", nil)
	require.NoError(t, err)
}

func TestDeleteAndTruncate(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectExec("DELETE FROM users WHERE id IN ($1,$2)").
		WithArgs("1", "2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := s.DeleteByIDs(ctx, nil, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.DeleteByIDs(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyIDs)

	mock.ExpectExec("TRUNCATE TABLE users").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Truncate(ctx, nil))
}

func TestExecErrorIsWrapped(t *testing.T) {
	s, mock := newTestStore(t, Table{Name: "users"})
	boom := errors.New("boom")

	mock.ExpectExec("DELETE FROM users WHERE id IN ($1)").WithArgs("1").WillReturnError(boom)

	_, err := s.DeleteByIDs(context.Background(), nil, []string{"1"})
	assert.ErrorIs(t, err, boom)
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users", Columns: []string{"name", "status"}})

	mock.ExpectQuery("SELECT id, name, status FROM users WHERE id = $1 LIMIT 1").
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}).AddRow("1", []byte("ann"), "A"))
	rec, err := s.GetByID(ctx, nil, "1")
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "1", "name": "ann", "status": "A"}, rec)

	mock.ExpectQuery("SELECT id, name, status FROM users WHERE id = $1 LIMIT 1").
		WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}))
	_, err = s.GetByID(ctx, nil, "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetIDBy(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectQuery("SELECT id FROM users WHERE email = $1 LIMIT 1").
		WithArgs("a@x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1"))
	id, err := s.GetIDBy(ctx, nil, "email", "a@x")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	mock.ExpectQuery("SELECT id FROM users WHERE email = $1 LIMIT 1").
		WithArgs("b@x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = s.GetIDBy(ctx, nil, "email", "b@x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMGetByIDs(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectQuery("SELECT * FROM users WHERE id IN ($1,$2,$3)").
		WithArgs("1", "2", "3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "ann").AddRow("3", "cid"))

	got, err := s.MGetByIDs(ctx, nil, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Record{
		"1": {"id": "1", "name": "ann"},
		"3": {"id": "3", "name": "cid"},
	}, got)

	empty, err := s.MGetByIDs(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSelectIDListAndCount(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})
	active := Filter(map[string]any{"status": "A", "role": ""}, "")

	mock.ExpectQuery("SELECT id FROM users WHERE status = $1").
		WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2"))
	ids, err := s.SelectIDList(ctx, nil, active)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	mock.ExpectQuery("SELECT COUNT(*) FROM users WHERE status = $1").
		WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	n, err := s.SelectListCount(ctx, nil, active)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSelectIDSortList(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users", Sort: "seq"})

	mock.ExpectQuery("SELECT id, seq FROM users WHERE seq < $1 ORDER BY seq DESC LIMIT 3").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq"}).
			AddRow("9", int64(90)).
			AddRow("8", int64(80)).
			AddRow("7", int64(70)))

	list, err := s.SelectIDSortList(ctx, nil, Pager{Rows: 2, Last: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, SortList{List: []string{"9", "8"}, Rows: 2, Last: 80, More: true}, list)

	plain, _ := newTestStore(t, Table{Name: "users"})
	_, err = plain.SelectIDSortList(ctx, nil, Pager{}, nil)
	assert.ErrorIs(t, err, ErrNoSortColumn)
}

func TestSelectIDViewList(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectQuery("SELECT id FROM users ORDER BY id ASC LIMIT 2 OFFSET 2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("3").AddRow("4"))

	list, err := s.SelectIDViewList(ctx, nil, Pager{Rows: 2, Page: 2}, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, ViewList{
		List: []string{"3", "4"},
		Page: PageInfo{Rows: 2, Page: 2, Total: 5, Pages: 3},
	}, list)
}

func TestCountBy(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, Table{Name: "users"})

	mock.ExpectQuery("SELECT status, COUNT(*) FROM users WHERE status IN ($1,$2) GROUP BY status").
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("A", int64(3)))

	got, err := s.CountBy(ctx, nil, "status", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 3}, got)

	_, err = s.CountBy(ctx, nil, "bad field", []string{"A"})
	var colErr *ColumnError
	assert.ErrorAs(t, err, &colErr)
}

func TestRunsOnTransaction(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	conn := postgresql.FromDB(db, logger.Nop())
	s, err := NewSQLStore(conn, Table{Name: "users"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users WHERE id IN ($1)").WithArgs("1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = s.DeleteByIDs(ctx, tx, []string{"1"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPages(t *testing.T) {
	assert.Equal(t, 0, Pages(0, 10))
	assert.Equal(t, 1, Pages(10, 10))
	assert.Equal(t, 2, Pages(11, 10))
	assert.Equal(t, 0, Pages(5, 0))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "", KeyString(nil))
	assert.Equal(t, "a", KeyString([]byte("a")))
	assert.Equal(t, "42", KeyString(int64(42)))
	assert.Equal(t, "7", KeyString(7))
	assert.Equal(t, "1.5", KeyString(1.5))
}

func TestRecordPick(t *testing.T) {
	r := Record{"id": "1", "name": "ann", "secret": "x"}
	assert.Equal(t, Record{"id": "1", "name": "ann"}, r.Pick([]string{"id", "name", "missing"}))
	assert.Equal(t, r, r.Pick(nil))
	assert.Nil(t, Record(nil).Pick([]string{"id"}))
}
