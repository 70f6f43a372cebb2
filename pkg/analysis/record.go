package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// Record notes that a resource was analyzed against a set of vocabularies.
type Record struct {
	ID           string                `json:"id" yaml:"id"`
	Resource     occurrence.ResourceID `json:"resource" yaml:"resource"`
	Vocabularies []string              `json:"vocabularies" yaml:"vocabularies"`
	RequestedBy  string                `json:"requestedBy,omitempty" yaml:"requested_by,omitempty"`
	Occurrences  int                   `json:"occurrences" yaml:"occurrences"`
	CreatedAt    time.Time             `json:"createdAt" yaml:"created_at"`
}

// RecordStore persists analysis records.
type RecordStore interface {
	Save(ctx context.Context, r *Record) error
	// FindLatest returns the most recent record of resource, or ErrNotFound.
	FindLatest(ctx context.Context, resource occurrence.ResourceID) (*Record, error)
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryRecordStore creates an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) Save(ctx context.Context, r *Record) error {
	if r.ID == "" || r.Resource == "" {
		return fmt.Errorf("%w: record id and resource are required", tmerrors.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ID == r.ID {
			return fmt.Errorf("record %s: %w", r.ID, tmerrors.ErrConflict)
		}
	}
	cp := *r
	cp.Vocabularies = append([]string(nil), r.Vocabularies...)
	s.records = append(s.records, cp)
	return nil
}

func (s *MemoryRecordStore) FindLatest(ctx context.Context, resource occurrence.ResourceID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Record
	for i := range s.records {
		r := &s.records[i]
		// Later saves win ties.
		if r.Resource == resource && (latest == nil || !r.CreatedAt.Before(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("analysis record of %s: %w", resource, tmerrors.ErrNotFound)
	}
	cp := *latest
	cp.Vocabularies = append([]string(nil), latest.Vocabularies...)
	return &cp, nil
}

// PostgresRecordStore implements RecordStore on text_analysis_records.
type PostgresRecordStore struct {
	db *pgxpool.Pool
}

// NewPostgresRecordStore creates a new PostgreSQL record store.
func NewPostgresRecordStore(db *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// Save inserts r.
func (s *PostgresRecordStore) Save(ctx context.Context, r *Record) error {
	if r.ID == "" || r.Resource == "" {
		return fmt.Errorf("%w: record id and resource are required", tmerrors.ErrValidation)
	}
	vocabularies := r.Vocabularies
	if vocabularies == nil {
		vocabularies = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO text_analysis_records (id, resource, vocabularies, requested_by, occurrences, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, string(r.Resource), vocabularies, r.RequestedBy, r.Occurrences, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving analysis record: %w", err)
	}
	return nil
}

// FindLatest returns the newest record of resource.
func (s *PostgresRecordStore) FindLatest(ctx context.Context, resource occurrence.ResourceID) (*Record, error) {
	var r Record
	var res string
	err := s.db.QueryRow(ctx, `
		SELECT id, resource, vocabularies, requested_by, occurrences, created_at
		FROM text_analysis_records
		WHERE resource = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, string(resource)).Scan(&r.ID, &res, &r.Vocabularies, &r.RequestedBy, &r.Occurrences, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis record of %s: %w", resource, tmerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest analysis record: %w", err)
	}
	r.Resource = occurrence.ResourceID(res)
	return &r, nil
}
