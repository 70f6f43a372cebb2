package occurrence

import "context"

// Repository stores term occurrences together with their targets and selectors.
type Repository interface {
	// Create stores a new occurrence. Returns ErrConflict if the id is taken.
	Create(ctx context.Context, o *TermOccurrence) error

	// Get returns the occurrence with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*TermOccurrence, error)

	// FindAllByTerm returns every occurrence of term across all resources.
	FindAllByTerm(ctx context.Context, term TermID) ([]TermOccurrence, error)

	// FindAllInResource returns every occurrence whose target points into resource.
	FindAllInResource(ctx context.Context, resource ResourceID) ([]TermOccurrence, error)

	// RemoveSuggested deletes the suggested occurrences of resource and returns how many were removed.
	RemoveSuggested(ctx context.Context, resource ResourceID) (int, error)

	// RemoveAll deletes every occurrence of resource.
	RemoveAll(ctx context.Context, resource ResourceID) (int, error)

	// Remove deletes a single occurrence. Returns ErrNotFound if absent.
	Remove(ctx context.Context, id string) error

	// ReplaceSuggested removes the suggested occurrences of resource and stores
	// batch in one transaction. Either both steps apply or neither does.
	// Concurrent calls for the same resource are serialized.
	ReplaceSuggested(ctx context.Context, resource ResourceID, batch []TermOccurrence) (removed int, err error)

	// Confirm clears the suggested flag. Confirming a confirmed occurrence is a no-op.
	Confirm(ctx context.Context, id string) error

	// Exists reports whether any occurrence data references resource.
	Exists(ctx context.Context, resource ResourceID) (bool, error)
}
