//go:build integration

package resource

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichalMed/termit/pkg/db"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

// Run with: TERMIT_TEST_DATABASE_URL=postgres://... go test -tags integration ./pkg/resource/
func TestPostgresStore(t *testing.T) {
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
	_, err = pool.Exec(ctx, `TRUNCATE resources CASCADE`)
	require.NoError(t, err)

	s := NewPostgresStore(pool)

	err = s.Save(ctx, &Resource{ID: "f1", Kind: KindFile, Document: "doc-1"})
	assert.True(t, tmerrors.IsNotFound(err))

	require.NoError(t, s.Save(ctx, &Resource{ID: "doc-1", Kind: KindDocument, Vocabulary: "v"}))
	require.NoError(t, s.Save(ctx, &Resource{ID: "f1", Kind: KindFile, Document: "doc-1"}))

	vocab, err := Vocabulary(ctx, s, &Resource{ID: "f1", Kind: KindFile, Document: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "v", vocab)

	require.NoError(t, s.Delete(ctx, "doc-1"))
	f, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, f.Document)
}
