package document

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MichalMed/termit/pkg/occurrence"
)

// DefaultCacheSize is the number of file contents CachedManager keeps.
const DefaultCacheSize = 256

// CachedManager caches LoadContent results of another Manager. Writes
// through the CachedManager evict the affected entry.
type CachedManager struct {
	Manager
	cache *lru.Cache[occurrence.ResourceID, string]
}

// NewCachedManager wraps next with an LRU cache of size entries.
func NewCachedManager(next Manager, size int) (*CachedManager, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[occurrence.ResourceID, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating content cache: %w", err)
	}
	return &CachedManager{Manager: next, cache: cache}, nil
}

func (m *CachedManager) LoadContent(ctx context.Context, file occurrence.ResourceID) (string, error) {
	if content, ok := m.cache.Get(file); ok {
		return content, nil
	}
	content, err := m.Manager.LoadContent(ctx, file)
	if err != nil {
		return "", err
	}
	m.cache.Add(file, content)
	return content, nil
}

func (m *CachedManager) SaveContent(ctx context.Context, file occurrence.ResourceID, content io.Reader) error {
	m.cache.Remove(file)
	return m.Manager.SaveContent(ctx, file, content)
}

func (m *CachedManager) Remove(ctx context.Context, file occurrence.ResourceID) error {
	m.cache.Remove(file)
	return m.Manager.Remove(ctx, file)
}

// Len returns the number of cached entries.
func (m *CachedManager) Len() int {
	return m.cache.Len()
}
