// Package resource is the registry of resources termit knows about.
//
// Only files carry textual content and can be analyzed. A file usually
// belongs to a document, and the document names the vocabulary whose
// terms are looked for in its files.
package resource

import (
	"context"
	"fmt"
	"time"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// Kind classifies resources.
type Kind string

const (
	KindFile     Kind = "file"
	KindDocument Kind = "document"
	KindOther    Kind = "other"
)

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFile, KindDocument, KindOther:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown resource kind %q", tmerrors.ErrValidation, s)
}

// Resource is a registered resource.
type Resource struct {
	ID         occurrence.ResourceID `json:"id" yaml:"id"`
	Label      string                `json:"label,omitempty" yaml:"label,omitempty"`
	Kind       Kind                  `json:"kind" yaml:"kind"`
	Document   occurrence.ResourceID `json:"document,omitempty" yaml:"document,omitempty"`
	Vocabulary string                `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
	CreatedAt  time.Time             `json:"createdAt" yaml:"created_at"`
}

// IsFile reports whether r has textual content.
func (r *Resource) IsFile() bool {
	return r.Kind == KindFile
}

// Validate checks the resource before it is saved.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: resource id is required", tmerrors.ErrValidation)
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Document != "" && r.Kind != KindFile {
		return fmt.Errorf("%w: only files belong to a document", tmerrors.ErrValidation)
	}
	if r.Document == r.ID {
		return fmt.Errorf("%w: resource %s cannot contain itself", tmerrors.ErrValidation, r.ID)
	}
	return nil
}

// Store persists resources.
type Store interface {
	// Get returns the resource or ErrNotFound.
	Get(ctx context.Context, id occurrence.ResourceID) (*Resource, error)

	// Save inserts or updates r.
	Save(ctx context.Context, r *Resource) error

	// Delete removes the resource. Files of a deleted document are kept
	// and lose their document link.
	Delete(ctx context.Context, id occurrence.ResourceID) error
}

// Vocabulary returns the vocabulary a file is analyzed against: the
// vocabulary of its document. Documents answer with their own vocabulary.
// An empty string means none is known.
func Vocabulary(ctx context.Context, store Store, r *Resource) (string, error) {
	switch {
	case r.Kind == KindDocument:
		return r.Vocabulary, nil
	case r.Kind != KindFile || r.Document == "":
		return "", nil
	}
	doc, err := store.Get(ctx, r.Document)
	if err != nil {
		if tmerrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("loading document of %s: %w", r.ID, err)
	}
	return doc.Vocabulary, nil
}
