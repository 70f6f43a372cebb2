//go:build integration

package document

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

// Run with: TERMIT_TEST_S3_ENDPOINT=localhost:9000 go test -tags integration ./pkg/document/
func TestS3Manager(t *testing.T) {
	endpoint := os.Getenv("TERMIT_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TERMIT_TEST_S3_ENDPOINT not set")
	}

	m, err := NewS3Manager(S3Config{
		Endpoint:  endpoint,
		AccessKey: envOr("TERMIT_TEST_S3_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("TERMIT_TEST_S3_SECRET_KEY", "minioadmin"),
		Bucket:    "termit-test",
		Prefix:    uuid.NewString(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.LoadContent(ctx, "file-1")
	assert.True(t, tmerrors.IsNotFound(err))

	require.NoError(t, m.SaveContent(ctx, "file-1", strings.NewReader("<p>x</p>")))
	content, err := m.LoadContent(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", content)

	m.now = func() time.Time { return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC) }
	backup, err := m.CreateBackup(ctx, "file-1")
	require.NoError(t, err)
	assert.Contains(t, backup, "backups/file-1~")
	again, err := m.CreateBackup(ctx, "file-1")
	require.NoError(t, err)
	assert.NotEqual(t, backup, again, "backups are never overwritten")

	require.NoError(t, m.Remove(ctx, "file-1"))
	ok, err := m.Exists(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
