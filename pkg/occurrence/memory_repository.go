package occurrence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

// MemoryRepository is an in-process Repository. All reads and writes copy
// occurrences, so callers never share state with the store.
type MemoryRepository struct {
	mu          sync.RWMutex
	occurrences map[string]*TermOccurrence
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{occurrences: make(map[string]*TermOccurrence)}
}

func (r *MemoryRepository) Create(ctx context.Context, o *TermOccurrence) error {
	if err := o.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.occurrences[o.ID]; ok {
		return fmt.Errorf("occurrence %s: %w", o.ID, tmerrors.ErrConflict)
	}
	r.occurrences[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*TermOccurrence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.occurrences[id]
	if !ok {
		return nil, fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) FindAllByTerm(ctx context.Context, term TermID) ([]TermOccurrence, error) {
	return r.filter(func(o *TermOccurrence) bool { return o.Term == term }), nil
}

func (r *MemoryRepository) FindAllInResource(ctx context.Context, resource ResourceID) ([]TermOccurrence, error) {
	return r.filter(func(o *TermOccurrence) bool { return o.Target.Source == resource }), nil
}

func (r *MemoryRepository) RemoveSuggested(ctx context.Context, resource ResourceID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(func(o *TermOccurrence) bool {
		return o.Target.Source == resource && o.Suggested
	}), nil
}

func (r *MemoryRepository) RemoveAll(ctx context.Context, resource ResourceID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(func(o *TermOccurrence) bool {
		return o.Target.Source == resource
	}), nil
}

func (r *MemoryRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.occurrences[id]; !ok {
		return fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	delete(r.occurrences, id)
	return nil
}

func (r *MemoryRepository) ReplaceSuggested(ctx context.Context, resource ResourceID, batch []TermOccurrence) (int, error) {
	// Validate everything up front so a bad batch leaves the store untouched.
	seen := make(map[string]struct{}, len(batch))
	for i := range batch {
		o := &batch[i]
		if err := o.Validate(); err != nil {
			return 0, err
		}
		if o.Target.Source != resource {
			return 0, fmt.Errorf("%w: occurrence %s targets %s, not %s",
				tmerrors.ErrValidation, o.ID, o.Target.Source, resource)
		}
		if _, dup := seen[o.ID]; dup {
			return 0, fmt.Errorf("occurrence %s: %w", o.ID, tmerrors.ErrConflict)
		}
		seen[o.ID] = struct{}{}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range seen {
		if existing, ok := r.occurrences[id]; ok && !(existing.Target.Source == resource && existing.Suggested) {
			return 0, fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrConflict)
		}
	}

	removed := r.removeLocked(func(o *TermOccurrence) bool {
		return o.Target.Source == resource && o.Suggested
	})
	for i := range batch {
		r.occurrences[batch[i].ID] = batch[i].Clone()
	}
	return removed, nil
}

func (r *MemoryRepository) Confirm(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.occurrences[id]
	if !ok {
		return fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	o.Suggested = false
	return nil
}

func (r *MemoryRepository) Exists(ctx context.Context, resource ResourceID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.occurrences {
		if o.Target.Source == resource {
			return true, nil
		}
	}
	return false, nil
}

// removeLocked deletes matching occurrences. Caller must hold the write lock.
func (r *MemoryRepository) removeLocked(match func(*TermOccurrence) bool) int {
	n := 0
	for id, o := range r.occurrences {
		if match(o) {
			delete(r.occurrences, id)
			n++
		}
	}
	return n
}

func (r *MemoryRepository) filter(match func(*TermOccurrence) bool) []TermOccurrence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TermOccurrence
	for _, o := range r.occurrences {
		if match(o) {
			out = append(out, *o.Clone())
		}
	}
	sortOccurrences(out)
	return out
}

// sortOccurrences orders by creation time, then id, matching the SQL ORDER BY.
func sortOccurrences(occs []TermOccurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if !occs[i].CreatedAt.Equal(occs[j].CreatedAt) {
			return occs[i].CreatedAt.Before(occs[j].CreatedAt)
		}
		return occs[i].ID < occs[j].ID
	})
}
