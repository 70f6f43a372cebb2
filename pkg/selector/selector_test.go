package selector

import (
	"encoding/json"
	"testing"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextQuote_Selector(t *testing.T) {
	var sel Selector = &TextQuote{ExactMatch: "term", Prefix: "a ", Suffix: "."}
	assert.Equal(t, KindTextQuote, sel.Kind())
	assert.Equal(t, "term", sel.Exact())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&TextQuote{ExactMatch: "x"}))

	err := Validate(&TextQuote{})
	assert.True(t, tmerrors.IsValidation(err))

	err = Validate(nil)
	assert.True(t, tmerrors.IsValidation(err))
}

func TestEqual_IgnoresID(t *testing.T) {
	a := &TextQuote{ID: "ts-1", ExactMatch: "x", Prefix: "p"}
	b := &TextQuote{ID: "ts-2", ExactMatch: "x", Prefix: "p"}
	c := &TextQuote{ExactMatch: "x", Prefix: "q"}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}

func TestSet_UnionDeduplicates(t *testing.T) {
	s := NewSet(
		&TextQuote{ExactMatch: "big", Suffix: " dog"},
		&TextQuote{ExactMatch: "big", Suffix: " dog"},
	)
	assert.Equal(t, 1, s.Len())

	other := NewSet(&TextQuote{ExactMatch: "dog"}, &TextQuote{ExactMatch: "big", Suffix: " dog"})
	s.Union(other)
	s.Union(nil)

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "big", items[0].Exact())
	assert.Equal(t, "dog", items[1].Exact())

	assert.False(t, s.Add(nil))
	var zero Set
	assert.True(t, zero.Add(&TextQuote{ExactMatch: "z"}))
}

func TestTextQuote_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(&TextQuote{ExactMatch: "term", Prefix: "a "})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text-quote","exactMatch":"term","prefix":"a "}`, string(data))
}
