package selector

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// DefaultContextLength is the number of runes captured on each side of a quote.
const DefaultContextLength = 32

var (
	// ErrNoElements is returned when Generate is called without elements.
	ErrNoElements = errors.New("selector: at least one element is required")

	// ErrEmptyExactMatch is returned when the elements carry no text. Callers
	// skip such mentions instead of failing the surrounding operation.
	ErrEmptyExactMatch = errors.New("selector: exact match is empty")

	// ErrDetachedElement is returned when an element is not part of the document.
	ErrDetachedElement = errors.New("selector: element is not part of the document")
)

// Generator builds TextQuote selectors from elements of a parsed document.
// It is safe for concurrent use as long as the document is not modified.
type Generator struct {
	contextLength int
}

// NewGenerator returns a generator capturing contextLength runes of context on
// each side. Non-positive values fall back to DefaultContextLength.
func NewGenerator(contextLength int) *Generator {
	if contextLength <= 0 {
		contextLength = DefaultContextLength
	}
	return &Generator{contextLength: contextLength}
}

// ContextLength returns the context budget per side in runes.
func (g *Generator) ContextLength() int { return g.contextLength }

// Generate returns a selector for the combined text of elements, which
// together render one mention. Elements may be split siblings of an
// overlapping annotation. The exact match is their text in document order,
// comments excluded. Prefix is the text right before the first element and
// suffix the text right after the last one, each cut to the context budget.
// All three are NFC normalized together, so an exact text starting with a
// combining mark takes in the base character it combines with.
func (g *Generator) Generate(doc *html.Node, elements ...*html.Node) (*TextQuote, error) {
	if len(elements) == 0 {
		return nil, ErrNoElements
	}

	targets := topLevel(elements)
	w := &walker{targets: targets, budget: g.contextLength}
	w.walk(doc)

	if w.seen < len(targets) {
		return nil, ErrDetachedElement
	}

	if strings.TrimFunc(w.exact.String(), unicode.IsSpace) == "" {
		return nil, ErrEmptyExactMatch
	}

	prefix, exact, suffix := splitNormalized(w.prefix.String(), w.exact.String(), w.suffix.String())
	return &TextQuote{
		ExactMatch: exact,
		Prefix:     lastRunes(prefix, g.contextLength),
		Suffix:     firstRunes(suffix, g.contextLength),
	}, nil
}

// splitNormalized normalizes prefix+exact+suffix as one text and splits the
// result back into three parts. A junction inside a normalization segment,
// as when the exact text starts with a combining mark, moves outward so the
// exact part holds the whole segment.
func splitNormalized(prefix, exact, suffix string) (string, string, string) {
	start := len(prefix)
	if start > 0 && norm.NFC.FirstBoundaryInString(exact) != 0 {
		start = max(norm.NFC.LastBoundary([]byte(prefix)), 0)
	}
	end := len(prefix) + len(exact)
	if suffix != "" {
		if b := norm.NFC.FirstBoundaryInString(suffix); b < 0 {
			end += len(suffix)
		} else {
			end += b
		}
	}

	text := prefix + exact + suffix
	return norm.NFC.String(text[:start]), norm.NFC.String(text[start:end]), norm.NFC.String(text[end:])
}

// ExtractText returns the text content of nodes with comments removed.
func ExtractText(nodes ...*html.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		appendText(&sb, n)
	}
	return sb.String()
}

func appendText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(sb, c)
	}
}

// topLevel drops elements nested inside another element of the same mention,
// since their text is already covered by the ancestor.
func topLevel(elements []*html.Node) map[*html.Node]struct{} {
	all := make(map[*html.Node]struct{}, len(elements))
	for _, el := range elements {
		if el != nil {
			all[el] = struct{}{}
		}
	}
	top := make(map[*html.Node]struct{}, len(all))
	for el := range all {
		nested := false
		for p := el.Parent; p != nil; p = p.Parent {
			if _, ok := all[p]; ok {
				nested = true
				break
			}
		}
		if !nested {
			top[el] = struct{}{}
		}
	}
	return top
}

// walker does one depth-first pass over the document, sorting text into
// prefix, exact and suffix relative to the target elements.
type walker struct {
	targets map[*html.Node]struct{}
	budget  int
	seen    int

	prefix strings.Builder
	exact  strings.Builder
	suffix strings.Builder
	done   bool
}

func (w *walker) walk(n *html.Node) {
	if w.done {
		return
	}
	if _, ok := w.targets[n]; ok {
		w.seen++
		appendText(&w.exact, n)
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		switch {
		case w.seen == 0:
			w.prefix.WriteString(n.Data)
			w.trimPrefix()
		case w.seen == len(w.targets):
			w.suffix.WriteString(n.Data)
			// Slack for normalization, which may merge runes.
			if utf8.RuneCountInString(w.suffix.String()) > 2*w.budget {
				w.done = true
			}
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// trimPrefix keeps the prefix buffer bounded on long documents.
func (w *walker) trimPrefix() {
	s := w.prefix.String()
	if utf8.RuneCountInString(s) <= 4*w.budget {
		return
	}
	tail := lastRunes(s, 2*w.budget)
	w.prefix.Reset()
	w.prefix.WriteString(tail)
}

func lastRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := len(s)
	for count := 0; count < n; count++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

func firstRunes(s string, n int) string {
	i := 0
	for count := 0; count < n && i < len(s); count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
