package occurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MichalMed/termit/pkg/db"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/selector"
)

// PostgresRepository implements Repository on PostgreSQL. Occurrences,
// targets and selectors live in separate tables linked with ON DELETE CASCADE.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// querier is the subset of pgxpool.Pool and pgx.Tx used here.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const selectOccurrences = `
	SELECT o.id, o.term, o.score, o.suggested, o.created_at, t.id, t.source
	FROM term_occurrences o
	JOIN occurrence_targets t ON t.occurrence_id = o.id
`

const orderOccurrences = ` ORDER BY o.created_at, o.id`

// Create stores o with its target and selectors in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, o *TermOccurrence) error {
	if err := o.Validate(); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return insertOccurrences(ctx, tx, []TermOccurrence{*o})
	})
	if err != nil {
		return fmt.Errorf("creating occurrence: %w", err)
	}
	return nil
}

// Get retrieves an occurrence by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*TermOccurrence, error) {
	occs, err := r.find(ctx, r.db, selectOccurrences+` WHERE o.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting occurrence: %w", err)
	}
	if len(occs) == 0 {
		return nil, fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	return &occs[0], nil
}

// FindAllByTerm lists occurrences of term across all resources.
func (r *PostgresRepository) FindAllByTerm(ctx context.Context, term TermID) ([]TermOccurrence, error) {
	occs, err := r.find(ctx, r.db, selectOccurrences+` WHERE o.term = $1`+orderOccurrences, string(term))
	if err != nil {
		return nil, fmt.Errorf("listing occurrences of term: %w", err)
	}
	return occs, nil
}

// FindAllInResource lists occurrences pointing into resource.
func (r *PostgresRepository) FindAllInResource(ctx context.Context, resource ResourceID) ([]TermOccurrence, error) {
	occs, err := r.find(ctx, r.db, selectOccurrences+` WHERE t.source = $1`+orderOccurrences, string(resource))
	if err != nil {
		return nil, fmt.Errorf("listing occurrences in resource: %w", err)
	}
	return occs, nil
}

// RemoveSuggested deletes the suggested occurrences of resource under the
// same advisory lock ReplaceSuggested takes.
func (r *PostgresRepository) RemoveSuggested(ctx context.Context, resource ResourceID) (int, error) {
	var removed int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockResource(ctx, tx, resource); err != nil {
			return err
		}
		n, err := deleteSuggested(ctx, tx, resource)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("removing suggested occurrences: %w", err)
	}
	return removed, nil
}

// RemoveAll deletes every occurrence of resource.
func (r *PostgresRepository) RemoveAll(ctx context.Context, resource ResourceID) (int, error) {
	var removed int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockResource(ctx, tx, resource); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM term_occurrences o
			USING occurrence_targets t
			WHERE t.occurrence_id = o.id AND t.source = $1
		`, string(resource))
		if err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("removing occurrences: %w", err)
	}
	return removed, nil
}

// Remove deletes one occurrence.
func (r *PostgresRepository) Remove(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM term_occurrences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("removing occurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	return nil
}

// ReplaceSuggested swaps the suggested occurrences of resource for batch.
// The transaction holds pg_advisory_xact_lock on the resource id, so
// concurrent replacements of one resource run one after the other.
func (r *PostgresRepository) ReplaceSuggested(ctx context.Context, resource ResourceID, batch []TermOccurrence) (int, error) {
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return 0, err
		}
		if batch[i].Target.Source != resource {
			return 0, fmt.Errorf("%w: occurrence %s targets %s, not %s",
				tmerrors.ErrValidation, batch[i].ID, batch[i].Target.Source, resource)
		}
	}

	var removed int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockResource(ctx, tx, resource); err != nil {
			return err
		}
		n, err := deleteSuggested(ctx, tx, resource)
		if err != nil {
			return err
		}
		removed = n
		return insertOccurrences(ctx, tx, batch)
	})
	if err != nil {
		return 0, fmt.Errorf("replacing suggested occurrences of %s: %w", resource, err)
	}
	return removed, nil
}

// Confirm clears the suggested flag.
func (r *PostgresRepository) Confirm(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE term_occurrences SET suggested = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("confirming occurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
	}
	return nil
}

// Exists checks for any target row referencing resource. Selectors cannot
// outlive their target, so this covers them too.
func (r *PostgresRepository) Exists(ctx context.Context, resource ResourceID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM occurrence_targets WHERE source = $1)`,
		string(resource),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking occurrences: %w", err)
	}
	return exists, nil
}

func lockResource(ctx context.Context, tx pgx.Tx, resource ResourceID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(resource)); err != nil {
		return fmt.Errorf("locking resource %s: %w", resource, err)
	}
	return nil
}

func deleteSuggested(ctx context.Context, q querier, resource ResourceID) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM term_occurrences o
		USING occurrence_targets t
		WHERE t.occurrence_id = o.id AND t.source = $1 AND o.suggested
	`, string(resource))
	if err != nil {
		return 0, fmt.Errorf("deleting suggested occurrences: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// insertOccurrences sends all rows of batch in a single pgx batch.
func insertOccurrences(ctx context.Context, q querier, batch []TermOccurrence) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for i := range batch {
		o := &batch[i]
		createdAt := o.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		b.Queue(`
			INSERT INTO term_occurrences (id, term, score, suggested, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, string(o.Term), o.Score, o.Suggested, createdAt)
		b.Queue(`
			INSERT INTO occurrence_targets (id, occurrence_id, source)
			VALUES ($1, $2, $3)
		`, o.Target.ID, o.ID, string(o.Target.Source))

		for pos, sel := range o.Target.Selectors {
			tq, ok := sel.(*selector.TextQuote)
			if !ok {
				return fmt.Errorf("%w: unsupported selector kind %q", tmerrors.ErrValidation, sel.Kind())
			}
			b.Queue(`
				INSERT INTO term_selectors (id, target_id, kind, position, exact_match, prefix, suffix)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, tq.ID, o.Target.ID, string(tq.Kind()), pos, tq.ExactMatch, tq.Prefix, tq.Suffix)
		}
	}

	results := q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return mapWriteError(err)
		}
	}
	if err := results.Close(); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func mapWriteError(err error) error {
	if pgErr, ok := db.PgError(err, db.UniqueViolation); ok {
		return fmt.Errorf("%s: %w", pgErr.Detail, tmerrors.ErrConflict)
	}
	return fmt.Errorf("inserting occurrences: %w", err)
}

func (r *PostgresRepository) find(ctx context.Context, q querier, query string, args ...any) ([]TermOccurrence, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occs []TermOccurrence
	for rows.Next() {
		var o TermOccurrence
		var term, source string
		if err := rows.Scan(&o.ID, &term, &o.Score, &o.Suggested, &o.CreatedAt, &o.Target.ID, &source); err != nil {
			return nil, fmt.Errorf("scanning occurrence: %w", err)
		}
		o.Term = TermID(term)
		o.Target.Source = ResourceID(source)
		occs = append(occs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating occurrences: %w", err)
	}

	if err := loadSelectors(ctx, q, occs); err != nil {
		return nil, err
	}
	return occs, nil
}

func loadSelectors(ctx context.Context, q querier, occs []TermOccurrence) error {
	if len(occs) == 0 {
		return nil
	}

	byTarget := make(map[string]*Target, len(occs))
	targetIDs := make([]string, 0, len(occs))
	for i := range occs {
		byTarget[occs[i].Target.ID] = &occs[i].Target
		targetIDs = append(targetIDs, occs[i].Target.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, target_id, kind, exact_match, prefix, suffix
		FROM term_selectors
		WHERE target_id = ANY($1)
		ORDER BY target_id, position
	`, targetIDs)
	if err != nil {
		return fmt.Errorf("loading selectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tq selector.TextQuote
		var targetID, kind string
		if err := rows.Scan(&tq.ID, &targetID, &kind, &tq.ExactMatch, &tq.Prefix, &tq.Suffix); err != nil {
			return fmt.Errorf("scanning selector: %w", err)
		}
		if selector.Kind(kind) != selector.KindTextQuote {
			return fmt.Errorf("selector %s has unknown kind %q", tq.ID, kind)
		}
		if t, ok := byTarget[targetID]; ok {
			t.Selectors = append(t.Selectors, &tq)
		}
	}
	return rows.Err()
}
