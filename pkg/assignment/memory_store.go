package assignment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

type key struct {
	term     occurrence.TermID
	resource occurrence.ResourceID
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[key]Assignment
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[key]Assignment)}
}

func (s *MemoryStore) Assign(ctx context.Context, term occurrence.TermID, resource occurrence.ResourceID) error {
	if term == "" || resource == "" {
		return fmt.Errorf("%w: term and resource are required", tmerrors.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{term, resource}
	if _, ok := s.assignments[k]; ok {
		return nil
	}
	s.assignments[k] = Assignment{
		Term:      term,
		Resource:  resource,
		Suggested: true,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) FindAssignments(ctx context.Context, resource occurrence.ResourceID) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Assignment{}
	for k, a := range s.assignments {
		if k.resource == resource {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func (s *MemoryStore) RemoveAll(ctx context.Context, resource occurrence.ResourceID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.assignments {
		if k.resource == resource {
			delete(s.assignments, k)
			n++
		}
	}
	return n, nil
}
