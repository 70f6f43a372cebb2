package document

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichalMed/termit/pkg/occurrence"
)

type countingManager struct {
	Manager
	loads int
}

func (m *countingManager) LoadContent(ctx context.Context, file occurrence.ResourceID) (string, error) {
	m.loads++
	return m.Manager.LoadContent(ctx, file)
}

func TestCachedManager(t *testing.T) {
	ctx := context.Background()
	inner := &countingManager{Manager: newTestManager(t)}
	m, err := NewCachedManager(inner, 2)
	require.NoError(t, err)

	require.NoError(t, m.SaveContent(ctx, "file-1", strings.NewReader("v1")))

	for i := 0; i < 3; i++ {
		content, err := m.LoadContent(ctx, "file-1")
		require.NoError(t, err)
		assert.Equal(t, "v1", content)
	}
	assert.Equal(t, 1, inner.loads)

	require.NoError(t, m.SaveContent(ctx, "file-1", strings.NewReader("v2")))
	content, err := m.LoadContent(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", content)
	assert.Equal(t, 2, inner.loads)

	require.NoError(t, m.Remove(ctx, "file-1"))
	assert.Equal(t, 0, m.Len())
	_, err = m.LoadContent(ctx, "file-1")
	assert.Error(t, err)
}

func TestCachedManager_DoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := &countingManager{Manager: newTestManager(t)}
	m, err := NewCachedManager(inner, 0)
	require.NoError(t, err)

	_, err = m.LoadContent(ctx, "missing")
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestCachedManager_Evicts(t *testing.T) {
	ctx := context.Background()
	inner := &countingManager{Manager: newTestManager(t)}
	m, err := NewCachedManager(inner, 2)
	require.NoError(t, err)

	for _, id := range []occurrence.ResourceID{"a", "b", "c"} {
		require.NoError(t, m.SaveContent(ctx, id, strings.NewReader(string(id))))
		_, err := m.LoadContent(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.Len())
}
