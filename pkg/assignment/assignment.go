// Package assignment records which terms are assigned to a resource.
//
// Text analysis promotes every term it found with a high enough score to a
// suggested assignment of the analyzed file. Assignments are keyed by
// (term, resource); promoting the same pair twice keeps the first record.
package assignment

import (
	"context"
	"time"

	"github.com/MichalMed/termit/pkg/occurrence"
)

// Assignment links a term to a resource.
type Assignment struct {
	Term      occurrence.TermID     `json:"term" yaml:"term"`
	Resource  occurrence.ResourceID `json:"resource" yaml:"resource"`
	Suggested bool                  `json:"suggested" yaml:"suggested"`
	CreatedAt time.Time             `json:"createdAt" yaml:"created_at"`
}

// Promoter turns a term found by analysis into an assignment of resource.
type Promoter interface {
	Assign(ctx context.Context, term occurrence.TermID, resource occurrence.ResourceID) error
}

// Store persists assignments.
type Store interface {
	Promoter

	// FindAssignments lists the assignments of resource ordered by term.
	FindAssignments(ctx context.Context, resource occurrence.ResourceID) ([]Assignment, error)

	// RemoveAll deletes every assignment of resource.
	RemoveAll(ctx context.Context, resource occurrence.ResourceID) (int, error)
}
