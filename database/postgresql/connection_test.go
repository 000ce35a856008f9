package postgresql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-coherence/config"
	"github.com/gaborage/go-coherence/database/types"
	"github.com/gaborage/go-coherence/logger"
)

func newMockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})

	return &Connection{db: db, logger: logger.Nop()}, mock
}

func TestConnectionMethods(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConnection(t)

	mock.ExpectPing()
	require.NoError(t, c.Health(ctx))

	mock.ExpectExec("INSERT INTO users").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := c.Exec(ctx, "INSERT INTO users(name) VALUES($1)", "a")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	rows, err := c.Query(ctx, "SELECT id FROM users")
	require.NoError(t, err)
	assert.True(t, rows.Next())
	require.NoError(t, rows.Close())

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	var n int
	require.NoError(t, c.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n))
	assert.Equal(t, 3, n)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Contains(t, stats, "open_connections")
	assert.Equal(t, types.PostgreSQL, c.DatabaseType())

	mock.ExpectClose()
	require.NoError(t, c.Close())
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WithArgs("u1").WillReturnResult(driver.RowsAffected(1))
	mock.ExpectQuery("SELECT email").WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@b"))
	mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	tx, err := c.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Exec(ctx, "DELETE FROM users WHERE id=$1", "u1")
	require.NoError(t, err)

	var email string
	require.NoError(t, tx.QueryRow(ctx, "SELECT email FROM users").Scan(&email))
	assert.Equal(t, "a@b", email)

	rows, err := tx.Query(ctx, "SELECT id FROM users")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	require.NoError(t, tx.Commit())

	mock.ExpectBegin()
	mock.ExpectRollback()
	tx, err = c.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	mock.ExpectBegin().WillReturnError(errors.New("no slots"))
	_, err = c.Begin(ctx)
	assert.EqualError(t, err, "no slots")
}

func TestQuoteDSN(t *testing.T) {
	assert.Equal(t, "''", quoteDSN(""))
	assert.Equal(t, "db.internal", quoteDSN("db.internal"))
	assert.Equal(t, `'p@ss word'`, quoteDSN("p@ss word"))
	assert.Equal(t, `'it\'s'`, quoteDSN("it's"))
	assert.Equal(t, `'a\\b'`, quoteDSN(`a\b`))
}

func TestDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{Host: "h", Port: 5432, Username: "u", Password: "p w", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password='p w' dbname=d sslmode=disable", DSN(cfg))

	cfg.ConnectionString = "postgres://x"
	assert.Equal(t, "postgres://x", DSN(cfg))
}

func TestNewConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	origOpen, origPing := openPostgresDB, pingPostgresDB
	t.Cleanup(func() { openPostgresDB, pingPostgresDB = origOpen, origPing })

	openPostgresDB = func(*pgx.ConnConfig) *sql.DB { return db }

	cfg := &config.DatabaseConfig{Host: "localhost", Port: 5432, Username: "u", Database: "d",
		Pool: config.PoolConfig{MaxConns: 5, MaxIdleConns: 1}}

	t.Run("PingFailure", func(t *testing.T) {
		pingPostgresDB = func(context.Context, *sql.DB) error { return errors.New("refused") }
		mock.ExpectClose()

		_, err := NewConnection(cfg, logger.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping PostgreSQL database")
	})

	t.Run("InvalidDSN", func(t *testing.T) {
		_, err := NewConnection(&config.DatabaseConfig{ConnectionString: "postgres://%zz"}, logger.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse PostgreSQL config")
	})

	t.Run("Success", func(t *testing.T) {
		db2, mock2, err := sqlmock.New()
		require.NoError(t, err)
		openPostgresDB = func(*pgx.ConnConfig) *sql.DB { return db2 }
		pingPostgresDB = func(context.Context, *sql.DB) error { return nil }

		conn, err := NewConnection(cfg, logger.Nop())
		require.NoError(t, err)
		assert.Equal(t, types.PostgreSQL, conn.DatabaseType())

		mock2.ExpectClose()
		require.NoError(t, conn.Close())
		require.NoError(t, mock2.ExpectationsWereMet())
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
