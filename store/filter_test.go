package store

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, q Query) (string, []any) {
	t.Helper()
	sqlStr, args, err := q.apply(sq.Select("id").From("users")).ToSql()
	require.NoError(t, err)
	return sqlStr, args
}

func TestSearch(t *testing.T) {
	sqlStr, args := render(t, Search([]string{"name", "email"}, "an"))
	assert.Equal(t, "SELECT id FROM users WHERE (name ILIKE ? OR email ILIKE ?)", sqlStr)
	assert.Equal(t, []any{"%an%", "%an%"}, args)

	sqlStr, _ = render(t, Search([]string{"name"}, ""))
	assert.Equal(t, "SELECT id FROM users", sqlStr)
}

func TestFilter(t *testing.T) {
	sqlStr, args := render(t, Filter(map[string]any{"status": "A", "role": "", "age": 0, "team": nil}, "u"))
	assert.Equal(t, "SELECT id FROM users WHERE u.status = ?", sqlStr)
	assert.Equal(t, []any{"A"}, args)

	sqlStr, _ = render(t, Filter(nil, ""))
	assert.Equal(t, "SELECT id FROM users", sqlStr)
}

func TestPeriod(t *testing.T) {
	sqlStr, args := render(t, Period("created", 10, 20))
	assert.Equal(t, "SELECT id FROM users WHERE created >= ? AND created <= ?", sqlStr)
	assert.Equal(t, []any{int64(10), int64(20)}, args)

	sqlStr, _ = render(t, Period("created", 0, 20))
	assert.Equal(t, "SELECT id FROM users WHERE created <= ?", sqlStr)

	sqlStr, _ = render(t, Period("", 10, 20))
	assert.Equal(t, "SELECT id FROM users", sqlStr)
}

func TestInArray(t *testing.T) {
	sqlStr, args := render(t, InArray("tags", "go"))
	assert.Equal(t, "SELECT id FROM users WHERE tags::jsonb @> ?::jsonb", sqlStr)
	assert.Equal(t, []any{`["go"]`}, args)

	sqlStr, _ = render(t, InArray("tags", nil))
	assert.Equal(t, "SELECT id FROM users", sqlStr)
}

func TestCompose(t *testing.T) {
	sqlStr, args := render(t, Compose(
		Filter(map[string]any{"status": "A"}, ""),
		nil,
		Period("created", 5, 0),
	))
	assert.Equal(t, "SELECT id FROM users WHERE status = ? AND created >= ?", sqlStr)
	assert.Equal(t, []any{"A", int64(5)}, args)
}
