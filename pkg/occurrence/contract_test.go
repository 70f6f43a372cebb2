package occurrence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/selector"
)

// runRepositoryContract exercises behavior every Repository must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		o := suggested("http://ex.org/t1", "file-a", 0.7, "alpha")
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, o.Term, got.Term)
		assert.Equal(t, o.Target.ID, got.Target.ID)
		assert.Equal(t, o.Target.Source, got.Target.Source)
		require.NotNil(t, got.Score)
		assert.InDelta(t, 0.7, *got.Score, 1e-9)
		assert.True(t, got.Suggested)
		require.Len(t, got.Target.Selectors, 1)
		assert.Equal(t, "alpha", got.Target.Selectors[0].Exact())

		err = repo.Create(ctx, o)
		assert.True(t, tmerrors.IsConflict(err), "duplicate create should conflict, got %v", err)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := newRepo(t).Get(ctx, "to-missing0000")
		assert.True(t, tmerrors.IsNotFound(err))
	})

	t.Run("selectors keep order", func(t *testing.T) {
		repo := newRepo(t)
		o := NewSuggested("http://ex.org/t1", "file-a", 0.5,
			&selector.TextQuote{ExactMatch: "big ", Prefix: "The "},
			&selector.TextQuote{ExactMatch: "dog", Suffix: " barks"},
		)
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, got.Target.Selectors, 2)
		assert.Equal(t, "big ", got.Target.Selectors[0].Exact())
		assert.Equal(t, "dog", got.Target.Selectors[1].Exact())
		assert.Equal(t, " barks", got.Target.Selectors[1].(*selector.TextQuote).Suffix)
	})

	t.Run("remove suggested keeps confirmed and manual", func(t *testing.T) {
		repo := newRepo(t)
		confirmed := suggested("http://ex.org/t1", "file-a", 0.9, "one")
		confirmed.Suggested = false
		manual := NewManual("http://ex.org/t2", "file-a", &selector.TextQuote{ExactMatch: "two"})
		s1 := suggested("http://ex.org/t3", "file-a", 0.4, "three")
		other := suggested("http://ex.org/t3", "file-b", 0.4, "three")
		for _, o := range []*TermOccurrence{confirmed, manual, s1, other} {
			require.NoError(t, repo.Create(ctx, o))
		}

		n, err := repo.RemoveSuggested(ctx, "file-a")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{confirmed.ID, manual.ID}, ids(left))

		n, err = repo.RemoveSuggested(ctx, "file-a")
		require.NoError(t, err)
		assert.Zero(t, n, "second call must be a no-op")

		again, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.ElementsMatch(t, ids(left), ids(again))

		inB, err := repo.FindAllInResource(ctx, "file-b")
		require.NoError(t, err)
		assert.Len(t, inB, 1)
	})

	t.Run("remove all cascades", func(t *testing.T) {
		repo := newRepo(t)
		c := suggested("http://ex.org/t1", "file-a", 0.9, "one")
		c.Suggested = false
		require.NoError(t, repo.Create(ctx, c))
		require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t2", "file-a", 0.2, "two")))
		require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t2", "file-b", 0.2, "two")))

		n, err := repo.RemoveAll(ctx, "file-a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.Empty(t, left)

		exists, err := repo.Exists(ctx, "file-a")
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = repo.Exists(ctx, "file-b")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("replace suggested scenario", func(t *testing.T) {
		repo := newRepo(t)
		c := suggested("http://ex.org/T1", "D", 0.99, "c")
		c.Suggested = false
		s1 := suggested("http://ex.org/T2", "D", 0.9, "s1")
		s2 := suggested("http://ex.org/T3", "D", 0.3, "s2")
		for _, o := range []*TermOccurrence{c, s1, s2} {
			require.NoError(t, repo.Create(ctx, o))
		}

		s3 := suggested("http://ex.org/T2", "D", 0.95, "s3")
		removed, err := repo.ReplaceSuggested(ctx, "D", []TermOccurrence{*s3})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		all, err := repo.FindAllInResource(ctx, "D")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{c.ID, s3.ID}, ids(all))

		t3, err := repo.FindAllByTerm(ctx, "http://ex.org/T3")
		require.NoError(t, err)
		assert.Empty(t, t3)
	})

	t.Run("replace suggested is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		c := NewManual("http://ex.org/t1", "file-a", &selector.TextQuote{ExactMatch: "kept"})
		require.NoError(t, repo.Create(ctx, c))

		batch := func() []TermOccurrence {
			return []TermOccurrence{
				*suggested("http://ex.org/t2", "file-a", 0.5, "x"),
				*suggested("http://ex.org/t3", "file-a", 0.6, "y"),
			}
		}

		for i := 0; i < 2; i++ {
			_, err := repo.ReplaceSuggested(ctx, "file-a", batch())
			require.NoError(t, err)

			all, err := repo.FindAllInResource(ctx, "file-a")
			require.NoError(t, err)
			assert.Len(t, all, 3, "run %d", i)
			assert.Equal(t, []string{"kept", "x", "y"}, exacts(all), "run %d", i)
		}
	})

	t.Run("replace suggested with empty batch", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t1", "file-a", 0.5, "x")))

		removed, err := repo.ReplaceSuggested(ctx, "file-a", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		exists, err := repo.Exists(ctx, "file-a")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("invalid batch leaves store untouched", func(t *testing.T) {
		repo := newRepo(t)
		old := suggested("http://ex.org/t1", "file-a", 0.5, "old")
		require.NoError(t, repo.Create(ctx, old))

		bad := suggested("http://ex.org/t2", "file-a", 0.5, "new")
		bad.Target.Selectors = nil
		_, err := repo.ReplaceSuggested(ctx, "file-a", []TermOccurrence{
			*suggested("http://ex.org/t2", "file-a", 0.5, "fine"),
			*bad,
		})
		require.Error(t, err)
		assert.True(t, tmerrors.IsValidation(err))

		foreign := suggested("http://ex.org/t2", "file-b", 0.5, "elsewhere")
		_, err = repo.ReplaceSuggested(ctx, "file-a", []TermOccurrence{*foreign})
		assert.True(t, tmerrors.IsValidation(err))

		all, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID}, ids(all))
	})

	t.Run("conflicting batch leaves store untouched", func(t *testing.T) {
		repo := newRepo(t)
		confirmed := suggested("http://ex.org/t1", "file-a", 0.5, "old")
		confirmed.Suggested = false
		require.NoError(t, repo.Create(ctx, confirmed))
		prior := suggested("http://ex.org/t2", "file-a", 0.5, "prior")
		require.NoError(t, repo.Create(ctx, prior))

		dup := confirmed.Clone()
		dup.Suggested = true
		_, err := repo.ReplaceSuggested(ctx, "file-a", []TermOccurrence{*dup})
		require.Error(t, err)
		assert.True(t, tmerrors.IsConflict(err))

		all, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{confirmed.ID, prior.ID}, ids(all))
	})

	t.Run("confirm", func(t *testing.T) {
		repo := newRepo(t)
		o := suggested("http://ex.org/t1", "file-a", 0.5, "x")
		require.NoError(t, repo.Create(ctx, o))

		require.NoError(t, repo.Confirm(ctx, o.ID))
		require.NoError(t, repo.Confirm(ctx, o.ID))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.False(t, got.Suggested)
		require.NotNil(t, got.Score, "confirming keeps the score")

		_, err = repo.ReplaceSuggested(ctx, "file-a", nil)
		require.NoError(t, err)
		_, err = repo.Get(ctx, o.ID)
		assert.NoError(t, err, "confirmed occurrence must survive re-analysis")

		assert.True(t, tmerrors.IsNotFound(repo.Confirm(ctx, "to-missing0000")))
	})

	t.Run("remove", func(t *testing.T) {
		repo := newRepo(t)
		o := suggested("http://ex.org/t1", "file-a", 0.5, "x")
		require.NoError(t, repo.Create(ctx, o))

		require.NoError(t, repo.Remove(ctx, o.ID))
		assert.True(t, tmerrors.IsNotFound(repo.Remove(ctx, o.ID)))

		exists, err := repo.Exists(ctx, "file-a")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("find by term spans resources", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t1", "file-a", 0.5, "x")))
		require.NoError(t, repo.Create(ctx, NewManual("http://ex.org/t1", "file-b", &selector.TextQuote{ExactMatch: "x"})))
		require.NoError(t, repo.Create(ctx, suggested("http://ex.org/t2", "file-a", 0.5, "y")))

		got, err := repo.FindAllByTerm(ctx, "http://ex.org/t1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("concurrent replacements of one resource", func(t *testing.T) {
		repo := newRepo(t)
		const workers = 8

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				batch := []TermOccurrence{
					*suggested("http://ex.org/t1", "file-a", 0.5, fmt.Sprintf("a%d", w)),
					*suggested("http://ex.org/t2", "file-a", 0.5, fmt.Sprintf("b%d", w)),
					*suggested("http://ex.org/t3", "file-a", 0.5, fmt.Sprintf("c%d", w)),
				}
				_, err := repo.ReplaceSuggested(ctx, "file-a", batch)
				errs <- err
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := repo.FindAllInResource(ctx, "file-a")
		require.NoError(t, err)
		assert.Len(t, all, 3, "exactly one batch must survive")
	})
}

func suggested(term TermID, resource ResourceID, score float64, exact string) *TermOccurrence {
	return NewSuggested(term, resource, score, &selector.TextQuote{ExactMatch: exact})
}

func ids(occs []TermOccurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.ID
	}
	return out
}

func exacts(occs []TermOccurrence) []string {
	var out []string
	for _, o := range occs {
		for _, sel := range o.Target.Selectors {
			out = append(out, sel.Exact())
		}
	}
	sort.Strings(out)
	return out
}
