//go:build integration

package db

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TERMIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TERMIT_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(testPool(t))

	_, err := m.Up(ctx)
	require.NoError(t, err)

	again, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Applied)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_UpToTarget(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)

	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS zz_first, zz_second; DELETE FROM schema_migrations WHERE version LIKE '9%_zz%'`)
	require.NoError(t, err)

	m := NewMigrator(pool).WithFS(fstest.MapFS{
		"x/901_zz_first.sql":  {Data: []byte("CREATE TABLE zz_first (id INT)")},
		"x/902_zz_second.sql": {Data: []byte("CREATE TABLE zz_second (id INT)")},
	}, "x")

	res, err := m.UpTo(ctx, "901_zz_first")
	require.NoError(t, err)
	assert.Equal(t, []string{"901_zz_first"}, res.Applied)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, "902_zz_second", status.Pending[0].Version)

	_, err = m.UpTo(ctx, "999_missing")
	assert.Error(t, err)
}
