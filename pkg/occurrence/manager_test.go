package occurrence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/selector"
)

// mockRepository is a testify mock of Repository.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, o *TermOccurrence) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockRepository) Get(ctx context.Context, id string) (*TermOccurrence, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TermOccurrence), args.Error(1)
}

func (m *mockRepository) FindAllByTerm(ctx context.Context, term TermID) ([]TermOccurrence, error) {
	args := m.Called(ctx, term)
	return args.Get(0).([]TermOccurrence), args.Error(1)
}

func (m *mockRepository) FindAllInResource(ctx context.Context, resource ResourceID) ([]TermOccurrence, error) {
	args := m.Called(ctx, resource)
	return args.Get(0).([]TermOccurrence), args.Error(1)
}

func (m *mockRepository) RemoveSuggested(ctx context.Context, resource ResourceID) (int, error) {
	args := m.Called(ctx, resource)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) RemoveAll(ctx context.Context, resource ResourceID) (int, error) {
	args := m.Called(ctx, resource)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) ReplaceSuggested(ctx context.Context, resource ResourceID, batch []TermOccurrence) (int, error) {
	args := m.Called(ctx, resource, batch)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) Confirm(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) Exists(ctx context.Context, resource ResourceID) (bool, error) {
	args := m.Called(ctx, resource)
	return args.Bool(0), args.Error(1)
}

func TestManager_Confirm(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := NewManager(repo, logging.NewNopLogger())

	o := suggested("http://ex.org/t1", "file-a", 0.5, "x")
	require.NoError(t, repo.Create(ctx, o))

	got, err := m.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, got.State())

	stored, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, stored.Suggested)

	_, err = m.Confirm(ctx, "to-missing0000")
	assert.True(t, tmerrors.IsNotFound(err))
}

func TestManager_ConfirmAlreadyConfirmedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	m := NewManager(repo, nil)

	o := NewManual("http://ex.org/t1", "file-a", &selector.TextQuote{ExactMatch: "x"})
	repo.On("Get", ctx, o.ID).Return(o, nil)

	got, err := m.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	repo.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
}

func TestManager_CreateManual(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := NewManager(repo, logging.NewNopLogger())

	o, err := m.CreateManual(ctx, "http://ex.org/t1", "file-a", &selector.TextQuote{ExactMatch: "hand picked"})
	require.NoError(t, err)
	assert.Nil(t, o.Score)
	assert.False(t, o.Suggested)

	n, err := m.RemoveSuggested(ctx, "file-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := m.FindAllInResource(ctx, "file-a")
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID}, ids(all))

	_, err = m.CreateManual(ctx, "", "file-a", &selector.TextQuote{ExactMatch: "x"})
	assert.True(t, tmerrors.IsValidation(err))

	_, err = m.CreateManual(ctx, "http://ex.org/t1", "file-a", &selector.TextQuote{})
	assert.True(t, tmerrors.IsValidation(err))
}

func TestManager_RemoveAllThenExists(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := NewManager(repo, logging.NewNopLogger())

	require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t1", "file-a", 0.5, "x")))
	_, err := m.CreateManual(ctx, "http://ex.org/t2", "file-a", &selector.TextQuote{ExactMatch: "y"})
	require.NoError(t, err)

	n, err := m.RemoveAll(ctx, "file-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	exists, err := m.Exists(ctx, "file-a")
	require.NoError(t, err)
	assert.False(t, exists)

	all, err := m.FindAllInResource(ctx, "file-a")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_PropagatesStorageErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	m := NewManager(repo, logging.NewNopLogger())
	boom := errors.New("connection reset")

	repo.On("RemoveSuggested", ctx, ResourceID("file-a")).Return(0, boom)
	repo.On("RemoveAll", ctx, ResourceID("file-a")).Return(0, boom)
	repo.On("Remove", ctx, "to-1").Return(boom)
	repo.On("FindAllInResource", ctx, ResourceID("file-a")).Return([]TermOccurrence(nil), boom)

	_, err := m.RemoveSuggested(ctx, "file-a")
	assert.ErrorIs(t, err, boom)
	_, err = m.RemoveAll(ctx, "file-a")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Remove(ctx, "to-1"), boom)
	_, err = m.Summarize(ctx, "file-a")
	assert.ErrorIs(t, err, boom)

	repo.AssertExpectations(t)
}

func TestManager_FindAllAndSummarize(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := NewManager(repo, logging.NewNopLogger())

	require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t1", "file-a", 0.5, "x")))
	require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t1", "file-b", 0.7, "x")))

	byTerm, err := m.FindAll(ctx, "http://ex.org/t1")
	require.NoError(t, err)
	assert.Len(t, byTerm, 2)

	s, err := m.Summarize(ctx, "file-b")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Suggested)
	require.Len(t, s.Terms, 1)
	assert.InDelta(t, 0.7, *s.Terms[0].MaxScore, 1e-9)
}
