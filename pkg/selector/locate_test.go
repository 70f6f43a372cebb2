package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocate(t *testing.T) {
	text := "one term here, another term there, final term."

	tests := []struct {
		name      string
		sel       *TextQuote
		wantStart int
		wantOK    bool
	}{
		{"full tuple picks the right copy", &TextQuote{ExactMatch: "term", Prefix: "another ", Suffix: " there"}, 23, true},
		{"prefix only", &TextQuote{ExactMatch: "term", Prefix: "final "}, 41, true},
		{"suffix only", &TextQuote{ExactMatch: "term", Suffix: " here"}, 4, true},
		{"stale context falls back to exact", &TextQuote{ExactMatch: "term", Prefix: "edited ", Suffix: " gone"}, 4, true},
		{"missing quote", &TextQuote{ExactMatch: "absent"}, 0, false},
		{"empty quote", &TextQuote{}, 0, false},
		{"nil selector", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := Locate(text, tt.sel)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.sel.ExactMatch, text[start:end])
		})
	}
}

func TestLocate_NormalizesText(t *testing.T) {
	start, end, ok := Locate("cafe\u0301 au lait", &TextQuote{ExactMatch: "café"})
	assert.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, len("café"), end)
}

func TestDocumentText(t *testing.T) {
	text, err := DocumentText(`<p>a<!--c--><b>b</b></p>`)
	assert.NoError(t, err)
	assert.Equal(t, "ab", text)
}
