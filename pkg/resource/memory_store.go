package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[occurrence.ResourceID]Resource
}

// NewMemoryStore creates a store holding the given resources.
func NewMemoryStore(resources ...*Resource) *MemoryStore {
	s := &MemoryStore{resources: make(map[occurrence.ResourceID]Resource)}
	for _, r := range resources {
		s.resources[r.ID] = *r
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id occurrence.ResourceID) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, tmerrors.ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) Save(ctx context.Context, r *Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Document != "" {
		if _, ok := s.resources[r.Document]; !ok {
			return fmt.Errorf("document %s: %w", r.Document, tmerrors.ErrNotFound)
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.resources[r.ID] = *r
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id occurrence.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return fmt.Errorf("resource %s: %w", id, tmerrors.ErrNotFound)
	}
	delete(s.resources, id)
	for k, r := range s.resources {
		if r.Document == id {
			r.Document = ""
			s.resources[k] = r
		}
	}
	return nil
}
