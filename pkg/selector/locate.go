package selector

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Locate finds the quote in text and returns the byte offsets of its exact
// match within the NFC normalized text. The full prefix+exact+suffix tuple is
// tried first, then each side alone, then the exact text by itself.
func Locate(text string, sel *TextQuote) (start, end int, ok bool) {
	if sel == nil || sel.ExactMatch == "" {
		return 0, 0, false
	}
	text = norm.NFC.String(text)

	candidates := []struct{ prefix, suffix string }{
		{sel.Prefix, sel.Suffix},
		{sel.Prefix, ""},
		{"", sel.Suffix},
		{"", ""},
	}

	tried := make(map[[2]string]bool, len(candidates))
	for _, c := range candidates {
		k := [2]string{c.prefix, c.suffix}
		if tried[k] {
			continue
		}
		tried[k] = true

		needle := c.prefix + sel.ExactMatch + c.suffix
		if i := strings.Index(text, needle); i >= 0 {
			start = i + len(c.prefix)
			return start, start + len(sel.ExactMatch), true
		}
	}
	return 0, 0, false
}

// DocumentText returns the normalized text of an HTML document as used by Locate.
func DocumentText(markup string) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	return norm.NFC.String(ExtractText(doc)), nil
}
