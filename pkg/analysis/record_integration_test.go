//go:build integration

package analysis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichalMed/termit/pkg/db"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

// Run with: TERMIT_TEST_DATABASE_URL=postgres://... go test -tags integration ./pkg/analysis/
func TestPostgresRecordStore(t *testing.T) {
	dsn := os.Getenv("TERMIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TERMIT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool).Up(ctx)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE text_analysis_records`)
	require.NoError(t, err)

	s := NewPostgresRecordStore(pool)
	_, err = s.FindLatest(ctx, "f1")
	assert.True(t, tmerrors.IsNotFound(err))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-1", Resource: "f1", Vocabularies: []string{"v1"}, CreatedAt: t0}))
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-2", Resource: "f1", Vocabularies: []string{"v1", "v2"}, RequestedBy: "bob", Occurrences: 3, CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-3", Resource: "f2", CreatedAt: t0.Add(time.Hour)}))

	rec, err := s.FindLatest(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "ar-2", rec.ID)
	assert.Equal(t, []string{"v1", "v2"}, rec.Vocabularies)
	assert.Equal(t, "bob", rec.RequestedBy)
	assert.Equal(t, 3, rec.Occurrences)
	assert.True(t, rec.CreatedAt.Equal(t0.Add(time.Minute)))

	assert.Error(t, s.Save(ctx, &Record{ID: "ar-1", Resource: "f1", CreatedAt: t0}))
}
