// Package selector describes where a term mention sits in a document without
// relying on byte offsets.
//
// The only selector kind today is TextQuote: the exact quoted text plus a
// bounded amount of context on either side. Consumers that only need the quoted
// text should use the Selector interface so new kinds can be added later.
package selector

import (
	"encoding/json"
	"fmt"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

// Kind identifies a selector variant.
type Kind string

const (
	KindTextQuote Kind = "text-quote"
)

// Selector is a content based anchor for a mention. The set of
// implementations is closed to this package.
type Selector interface {
	Kind() Kind
	// Exact returns the quoted text the selector points at.
	Exact() string
	isSelector()
}

// TextQuote anchors a mention by its exact text and surrounding context.
// Empty Prefix or Suffix means the context is absent.
type TextQuote struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	ExactMatch string `json:"exactMatch" yaml:"exact_match"`
	Prefix     string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
}

func (s *TextQuote) Kind() Kind    { return KindTextQuote }
func (s *TextQuote) Exact() string { return s.ExactMatch }
func (s *TextQuote) isSelector()   {}

// MarshalJSON adds the selector kind so mixed selector lists stay self-describing.
func (s *TextQuote) MarshalJSON() ([]byte, error) {
	type plain TextQuote
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*plain
	}{KindTextQuote, (*plain)(s)})
}

func (s *TextQuote) String() string {
	return fmt.Sprintf("%q[%q]%q", s.Prefix, s.ExactMatch, s.Suffix)
}

// Validate checks the invariants every selector must hold.
func Validate(sel Selector) error {
	if sel == nil {
		return fmt.Errorf("%w: nil selector", tmerrors.ErrValidation)
	}
	if sel.Exact() == "" {
		return fmt.Errorf("%w: selector exact match must not be empty", tmerrors.ErrValidation)
	}
	switch sel.(type) {
	case *TextQuote:
	default:
		return fmt.Errorf("%w: unsupported selector kind %q", tmerrors.ErrValidation, sel.Kind())
	}
	return nil
}

// Equal reports whether two selectors describe the same anchor. IDs are ignored.
func Equal(a, b Selector) bool {
	if a == nil || b == nil {
		return a == b
	}
	return key(a) == key(b)
}

func key(sel Selector) string {
	switch s := sel.(type) {
	case *TextQuote:
		return string(KindTextQuote) + "\x00" + s.Prefix + "\x00" + s.ExactMatch + "\x00" + s.Suffix
	default:
		return string(sel.Kind()) + "\x00" + sel.Exact()
	}
}

// Set is an ordered collection of selectors without duplicates. Adding a
// selector that is already present is a no-op, so merging the selectors of a
// split mention yields their union.
type Set struct {
	items []Selector
	index map[string]struct{}
}

// NewSet returns a set holding the given selectors in order, duplicates dropped.
func NewSet(sels ...Selector) *Set {
	s := &Set{index: make(map[string]struct{}, len(sels))}
	for _, sel := range sels {
		s.Add(sel)
	}
	return s
}

// Add inserts sel and reports whether it was not already present.
func (s *Set) Add(sel Selector) bool {
	if sel == nil {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	k := key(sel)
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = struct{}{}
	s.items = append(s.items, sel)
	return true
}

// Union adds every selector of other.
func (s *Set) Union(other *Set) {
	if other == nil {
		return
	}
	for _, sel := range other.items {
		s.Add(sel)
	}
}

// Items returns the selectors in insertion order.
func (s *Set) Items() []Selector {
	out := make([]Selector, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Set) Len() int { return len(s.items) }
