package assignment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// PostgresStore implements Store on the term_assignments table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL assignment store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Assign inserts a suggested assignment unless one already exists.
func (s *PostgresStore) Assign(ctx context.Context, term occurrence.TermID, resource occurrence.ResourceID) error {
	if term == "" || resource == "" {
		return fmt.Errorf("%w: term and resource are required", tmerrors.ErrValidation)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO term_assignments (term, resource, suggested, created_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (term, resource) DO NOTHING
	`, string(term), string(resource))
	if err != nil {
		return fmt.Errorf("assigning term %s: %w", term, err)
	}
	return nil
}

// FindAssignments lists the assignments of resource.
func (s *PostgresStore) FindAssignments(ctx context.Context, resource occurrence.ResourceID) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT term, resource, suggested, created_at
		FROM term_assignments
		WHERE resource = $1
		ORDER BY term
	`, string(resource))
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	out := []Assignment{}
	for rows.Next() {
		var a Assignment
		var term, res string
		if err := rows.Scan(&term, &res, &a.Suggested, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.Term = occurrence.TermID(term)
		a.Resource = occurrence.ResourceID(res)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignments: %w", err)
	}
	return out, nil
}

// RemoveAll deletes every assignment of resource.
func (s *PostgresStore) RemoveAll(ctx context.Context, resource occurrence.ResourceID) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM term_assignments WHERE resource = $1`, string(resource))
	if err != nil {
		return 0, fmt.Errorf("removing assignments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
