package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MichalMed/termit/pkg/db"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// PostgresStore implements Store on the resources table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL resource store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// Get retrieves a resource by id.
func (s *PostgresStore) Get(ctx context.Context, id occurrence.ResourceID) (*Resource, error) {
	var r Resource
	var rid, kind string
	var document, vocabulary *string
	err := s.db.QueryRow(ctx, `
		SELECT id, label, kind, document, vocabulary, created_at
		FROM resources WHERE id = $1
	`, string(id)).Scan(&rid, &r.Label, &kind, &document, &vocabulary, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resource %s: %w", id, tmerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("getting resource: %w", err)
	}
	r.ID = occurrence.ResourceID(rid)
	r.Kind = Kind(kind)
	if document != nil {
		r.Document = occurrence.ResourceID(*document)
	}
	if vocabulary != nil {
		r.Vocabulary = *vocabulary
	}
	return &r, nil
}

// Save upserts r.
func (s *PostgresStore) Save(ctx context.Context, r *Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO resources (id, label, kind, document, vocabulary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			kind = EXCLUDED.kind,
			document = EXCLUDED.document,
			vocabulary = EXCLUDED.vocabulary,
			updated_at = NOW()
		RETURNING created_at
	`, string(r.ID), r.Label, string(r.Kind), nullable(string(r.Document)), nullable(r.Vocabulary)).Scan(&r.CreatedAt)
	if err != nil {
		if _, ok := db.PgError(err, db.ForeignKeyViolation); ok {
			return fmt.Errorf("document %s: %w", r.Document, tmerrors.ErrNotFound)
		}
		return fmt.Errorf("saving resource: %w", err)
	}
	return nil
}

// Delete removes a resource.
func (s *PostgresStore) Delete(ctx context.Context, id occurrence.ResourceID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM resources WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", id, tmerrors.ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
