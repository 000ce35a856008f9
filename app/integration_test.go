//go:build integration

package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-coherence/coherence"
	"github.com/gaborage/go-coherence/database/postgresql"
	"github.com/gaborage/go-coherence/logger"
	"github.com/gaborage/go-coherence/store"
	"github.com/gaborage/go-coherence/testing/containers"
)

const integrationYAML = `
app:
  name: shop
server:
  port: 0
entities:
  user:
    table: users
    columns: [id, email, status, seq]
    sort: seq
    caches:
      index: [email]
      count: ["status:all"]
`

func TestCommitGatedInvalidationEndToEnd(t *testing.T) {
	ctx := context.Background()
	pg := containers.StartPostgres(ctx, t)
	rd := containers.StartRedis(ctx, t)

	cfg := loadTestConfig(t, integrationYAML)
	cfg.Database = pg.DatabaseConfig()
	cfg.Cache.Redis = rd.CacheConfig()

	conn, err := postgresql.NewConnection(&cfg.Database, logger.Nop())
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `CREATE TABLE users (
		id     text PRIMARY KEY,
		email  text NOT NULL,
		status text NOT NULL,
		seq    bigserial
	)`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	a, err := NewWithConfig(cfg, &Options{Logger: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ready, _ := a.Check(ctx)
	require.True(t, ready)

	users, err := a.Service("user")
	require.NoError(t, err)
	coord := a.Coordinator()

	require.NoError(t, coord.Run(ctx, func(ctx context.Context, uow *coherence.UnitOfWork) error {
		_, err := users.Insert(ctx, uow, store.Record{"id": "u1", "email": "a@example.com", "status": "active"})
		return err
	}))

	active, err := users.GetCountBy(ctx, nil, "status", "active", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	id, found, err := users.GetIDBy(ctx, nil, "email", "a@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "u1", id)

	rec, found, err := users.GetByID(ctx, nil, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "active", rec["status"])

	// A rolled back write leaves both the table and the cache as they were.
	boom := errors.New("abort")
	err = coord.Run(ctx, func(ctx context.Context, uow *coherence.UnitOfWork) error {
		if _, err := users.UpdateByID(ctx, uow, "u1", store.Record{"status": "blocked"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	active, err = users.GetCountBy(ctx, nil, "status", "active", nil, coherence.WithForce())
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	require.NoError(t, coord.Run(ctx, func(ctx context.Context, uow *coherence.UnitOfWork) error {
		_, err := users.UpdateByID(ctx, uow, "u1", store.Record{"status": "blocked"})
		return err
	}))

	active, err = users.GetCountBy(ctx, nil, "status", "active", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active, "old value count is invalidated")

	blocked, err := users.GetCountBy(ctx, nil, "status", "blocked", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), blocked)

	rec, found, err = users.GetByID(ctx, nil, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "blocked", rec["status"])

	require.NoError(t, coord.Run(ctx, func(ctx context.Context, uow *coherence.UnitOfWork) error {
		_, err := users.DeleteByIDs(ctx, uow, []string{"u1"})
		return err
	}))

	_, found, err = users.GetByID(ctx, nil, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = users.GetIDBy(ctx, nil, "email", "a@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}
