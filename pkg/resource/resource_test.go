package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"file", KindFile, false},
		{"document", KindDocument, false},
		{"other", KindOther, false},
		{"folder", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.True(t, tmerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResource_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       Resource
		wantErr bool
	}{
		{"file in document", Resource{ID: "f", Kind: KindFile, Document: "d"}, false},
		{"standalone file", Resource{ID: "f", Kind: KindFile}, false},
		{"missing id", Resource{Kind: KindFile}, true},
		{"bad kind", Resource{ID: "x", Kind: "folder"}, true},
		{"document inside document", Resource{ID: "d2", Kind: KindDocument, Document: "d"}, true},
		{"self reference", Resource{ID: "f", Kind: KindFile, Document: "f"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				assert.True(t, tmerrors.IsValidation(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVocabulary(t *testing.T) {
	ctx := context.Background()
	doc := &Resource{ID: "doc-1", Kind: KindDocument, Vocabulary: "vocab-1"}
	bare := &Resource{ID: "doc-2", Kind: KindDocument}
	store := NewMemoryStore(doc, bare)

	tests := []struct {
		name string
		r    *Resource
		want string
	}{
		{"file takes document vocabulary", &Resource{ID: "f1", Kind: KindFile, Document: "doc-1"}, "vocab-1"},
		{"document without vocabulary", &Resource{ID: "f2", Kind: KindFile, Document: "doc-2"}, ""},
		{"file without document", &Resource{ID: "f3", Kind: KindFile}, ""},
		{"file with missing document", &Resource{ID: "f4", Kind: KindFile, Document: "gone"}, ""},
		{"document itself", doc, "vocab-1"},
		{"other resource", &Resource{ID: "o", Kind: KindOther, Vocabulary: "ignored"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Vocabulary(ctx, store, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "doc-1")
	assert.True(t, tmerrors.IsNotFound(err))

	err = s.Save(ctx, &Resource{ID: "f1", Kind: KindFile, Document: "doc-1"})
	assert.True(t, tmerrors.IsNotFound(err), "document must exist first")

	require.NoError(t, s.Save(ctx, &Resource{ID: "doc-1", Kind: KindDocument, Vocabulary: "v"}))
	file := &Resource{ID: "f1", Kind: KindFile, Document: "doc-1", Label: "Chapter 1"}
	require.NoError(t, s.Save(ctx, file))
	assert.False(t, file.CreatedAt.IsZero())

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", got.Label)
	assert.True(t, got.IsFile())

	got.Label = "changed"
	again, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", again.Label, "Get must return a copy")

	require.NoError(t, s.Delete(ctx, "doc-1"))
	orphan, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, orphan.Document)

	assert.True(t, tmerrors.IsNotFound(s.Delete(ctx, "doc-1")))
}
