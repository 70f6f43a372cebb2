// Package occurrence models term occurrences in documents and manages their
// suggested → confirmed lifecycle.
//
// A TermOccurrence owns exactly one Target, which in turn owns its selectors.
// Nothing is shared between occurrences, so deleting an occurrence always
// cascades to its target and selectors.
package occurrence

import (
	"fmt"
	"math"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/ident"
	"github.com/MichalMed/termit/pkg/selector"
)

// TermID identifies a vocabulary term (an IRI in practice).
type TermID string

// ResourceID identifies a resource, usually a file with textual content.
type ResourceID string

// State is the review state of an occurrence.
type State string

const (
	StateSuggested State = "suggested"
	StateConfirmed State = "confirmed"
)

// Target binds a set of selectors to the document they point into.
type Target struct {
	ID        string              `json:"id" yaml:"id"`
	Source    ResourceID          `json:"source" yaml:"source"`
	Selectors []selector.Selector `json:"selectors" yaml:"selectors"`
}

// TermOccurrence is one mention of a term in a document.
//
// Score is set only for machine generated occurrences. Suggested occurrences
// are unreviewed; clearing Suggested confirms the occurrence, and there is
// no way back.
type TermOccurrence struct {
	ID        string    `json:"id" yaml:"id"`
	Term      TermID    `json:"term" yaml:"term"`
	Target    Target    `json:"target" yaml:"target"`
	Score     *float64  `json:"score,omitempty" yaml:"score,omitempty"`
	Suggested bool      `json:"suggested" yaml:"suggested"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// NewSuggested builds a scored, suggested occurrence as produced by text analysis.
func NewSuggested(term TermID, source ResourceID, score float64, sels ...selector.Selector) *TermOccurrence {
	o := newOccurrence(term, source, sels)
	o.Score = &score
	o.Suggested = true
	return o
}

// NewManual builds an unscored occurrence created by a person. It starts confirmed.
func NewManual(term TermID, source ResourceID, sels ...selector.Selector) *TermOccurrence {
	return newOccurrence(term, source, sels)
}

func newOccurrence(term TermID, source ResourceID, sels []selector.Selector) *TermOccurrence {
	set := selector.NewSet(sels...)
	items := set.Items()
	for _, sel := range items {
		if tq, ok := sel.(*selector.TextQuote); ok && tq.ID == "" {
			tq.ID = ident.New(ident.TypeSelector)
		}
	}
	return &TermOccurrence{
		ID:   ident.New(ident.TypeOccurrence),
		Term: term,
		Target: Target{
			ID:        ident.New(ident.TypeTarget),
			Source:    source,
			Selectors: items,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// IsManual reports whether the occurrence was created by a person.
func (o *TermOccurrence) IsManual() bool {
	return o.Score == nil
}

// State returns the review state.
func (o *TermOccurrence) State() State {
	if o.Suggested {
		return StateSuggested
	}
	return StateConfirmed
}

// Validate checks the structural invariants of the occurrence.
func (o *TermOccurrence) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: occurrence id is required", tmerrors.ErrValidation)
	}
	if o.Term == "" {
		return fmt.Errorf("%w: occurrence %s has no term", tmerrors.ErrValidation, o.ID)
	}
	if o.Target.ID == "" || o.Target.Source == "" {
		return fmt.Errorf("%w: occurrence %s has no target source", tmerrors.ErrValidation, o.ID)
	}
	if len(o.Target.Selectors) == 0 {
		return fmt.Errorf("%w: occurrence %s has no selectors", tmerrors.ErrValidation, o.ID)
	}
	for _, sel := range o.Target.Selectors {
		if err := selector.Validate(sel); err != nil {
			return fmt.Errorf("occurrence %s: %w", o.ID, err)
		}
	}
	if o.Suggested && o.Score == nil {
		return fmt.Errorf("%w: suggested occurrence %s has no score", tmerrors.ErrValidation, o.ID)
	}
	if o.Score != nil && (math.IsNaN(*o.Score) || math.IsInf(*o.Score, 0)) {
		return fmt.Errorf("%w: occurrence %s has invalid score", tmerrors.ErrValidation, o.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (o *TermOccurrence) Clone() *TermOccurrence {
	c := *o
	if o.Score != nil {
		s := *o.Score
		c.Score = &s
	}
	c.Target.Selectors = make([]selector.Selector, len(o.Target.Selectors))
	for i, sel := range o.Target.Selectors {
		if tq, ok := sel.(*selector.TextQuote); ok {
			cp := *tq
			c.Target.Selectors[i] = &cp
		} else {
			c.Target.Selectors[i] = sel
		}
	}
	return &c
}

// Summary aggregates the occurrences of one resource.
type Summary struct {
	Resource  ResourceID    `json:"resource" yaml:"resource"`
	Suggested int           `json:"suggested" yaml:"suggested"`
	Confirmed int           `json:"confirmed" yaml:"confirmed"`
	Manual    int           `json:"manual" yaml:"manual"`
	Terms     []TermSummary `json:"terms" yaml:"terms"`
}

// TermSummary counts the occurrences of one term in a resource.
type TermSummary struct {
	Term      TermID   `json:"term" yaml:"term"`
	Suggested int      `json:"suggested" yaml:"suggested"`
	Confirmed int      `json:"confirmed" yaml:"confirmed"`
	MaxScore  *float64 `json:"maxScore,omitempty" yaml:"max_score,omitempty"`
}
