package occurrence

import (
	"context"
	"fmt"
	"sort"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/selector"
)

// Manager exposes the lifecycle operations around a resource's occurrences.
type Manager struct {
	repo   Repository
	logger logging.Logger
}

// NewManager creates a Manager over repo.
func NewManager(repo Repository, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		repo:   repo,
		logger: logger.With(logging.Component("occurrence_manager")),
	}
}

// FindAll returns every occurrence of term, suggested and confirmed.
func (m *Manager) FindAll(ctx context.Context, term TermID) ([]TermOccurrence, error) {
	return m.repo.FindAllByTerm(ctx, term)
}

// FindAllInResource returns every occurrence whose target points into resource.
func (m *Manager) FindAllInResource(ctx context.Context, resource ResourceID) ([]TermOccurrence, error) {
	return m.repo.FindAllInResource(ctx, resource)
}

// Get returns a single occurrence.
func (m *Manager) Get(ctx context.Context, id string) (*TermOccurrence, error) {
	return m.repo.Get(ctx, id)
}

// RemoveSuggested drops the unreviewed occurrences of resource. Confirmed
// occurrences, manual ones included, are kept. Calling it again is a no-op.
func (m *Manager) RemoveSuggested(ctx context.Context, resource ResourceID) (int, error) {
	n, err := m.repo.RemoveSuggested(ctx, resource)
	if err != nil {
		return 0, err
	}
	m.logger.WithContext(ctx).Info("removed suggested occurrences",
		logging.F("resource", string(resource)), logging.F("count", n))
	return n, nil
}

// RemoveAll drops every occurrence of resource, used when the resource itself
// goes away. Afterwards Exists(resource) is false.
func (m *Manager) RemoveAll(ctx context.Context, resource ResourceID) (int, error) {
	n, err := m.repo.RemoveAll(ctx, resource)
	if err != nil {
		return 0, err
	}
	m.logger.WithContext(ctx).Info("removed all occurrences",
		logging.F("resource", string(resource)), logging.F("count", n))
	return n, nil
}

// Remove deletes one occurrence regardless of its state.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.repo.Remove(ctx, id); err != nil {
		return err
	}
	m.logger.WithContext(ctx).Info("removed occurrence", logging.F("occurrence", id))
	return nil
}

// Confirm accepts a suggested occurrence. It returns the confirmed occurrence.
func (m *Manager) Confirm(ctx context.Context, id string) (*TermOccurrence, error) {
	o, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.State() == StateConfirmed {
		m.logger.Debug("occurrence already confirmed", logging.F("occurrence", id))
		return o, nil
	}
	if err := m.repo.Confirm(ctx, id); err != nil {
		return nil, err
	}
	o.Suggested = false
	m.logger.WithContext(ctx).Info("confirmed occurrence",
		logging.F("occurrence", id), logging.F("term", string(o.Term)))
	return o, nil
}

// CreateManual records an occurrence a person marked by hand. It is stored
// confirmed and without a score, so re-analysis never removes it.
func (m *Manager) CreateManual(ctx context.Context, term TermID, resource ResourceID, sels ...selector.Selector) (*TermOccurrence, error) {
	if term == "" || resource == "" {
		return nil, fmt.Errorf("%w: term and resource are required", tmerrors.ErrValidation)
	}
	o := NewManual(term, resource, sels...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	m.logger.WithContext(ctx).Info("created manual occurrence",
		logging.F("occurrence", o.ID), logging.F("term", string(term)), logging.F("resource", string(resource)))
	return o, nil
}

// Exists reports whether any occurrence data references resource.
func (m *Manager) Exists(ctx context.Context, resource ResourceID) (bool, error) {
	return m.repo.Exists(ctx, resource)
}

// Summarize counts occurrences of resource per state and per term.
func (m *Manager) Summarize(ctx context.Context, resource ResourceID) (*Summary, error) {
	occs, err := m.repo.FindAllInResource(ctx, resource)
	if err != nil {
		return nil, err
	}
	return Summarize(resource, occs), nil
}

// Summarize aggregates occs, which must all belong to resource.
func Summarize(resource ResourceID, occs []TermOccurrence) *Summary {
	s := &Summary{Resource: resource, Terms: []TermSummary{}}
	byTerm := make(map[TermID]*TermSummary)
	var order []TermID

	for i := range occs {
		o := &occs[i]
		ts, ok := byTerm[o.Term]
		if !ok {
			ts = &TermSummary{Term: o.Term}
			byTerm[o.Term] = ts
			order = append(order, o.Term)
		}
		if o.Suggested {
			s.Suggested++
			ts.Suggested++
		} else {
			s.Confirmed++
			ts.Confirmed++
		}
		if o.IsManual() {
			s.Manual++
		} else if ts.MaxScore == nil || *o.Score > *ts.MaxScore {
			score := *o.Score
			ts.MaxScore = &score
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, term := range order {
		s.Terms = append(s.Terms, *byTerm[term])
	}
	return s
}
