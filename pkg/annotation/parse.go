package annotation

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// Annotation node attributes
const (
	attrTypeOf   = "typeof"
	attrResource = "resource"
	attrScore    = "score"
	attrAbout    = "about"
)

// Group is one logical mention: the annotation nodes sharing a mention
// group id and term, in document order. Nodes without a group id form
// a group of their own.
type Group struct {
	Key   string
	Term  occurrence.TermID
	Score float64
	Nodes []*html.Node
}

// ParseGroups parses annotated markup and collects its mention groups in
// document order. Annotation nodes without a term are skipped. A score
// that is not a finite, non-negative number makes the markup malformed.
func ParseGroups(r io.Reader, occurrenceType string) ([]Group, *html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing markup: %w", tmerrors.ErrMalformedMarkup, err)
	}

	c := &collector{occurrenceType: occurrenceType, index: make(map[groupKey]int)}
	if err := c.walk(doc); err != nil {
		return nil, nil, err
	}
	return c.groups, doc, nil
}

type groupKey struct {
	about string
	term  occurrence.TermID
}

type collector struct {
	occurrenceType string
	groups         []Group
	index          map[groupKey]int
}

func (c *collector) walk(n *html.Node) error {
	if n.Type == html.ElementNode && hasToken(attr(n, attrTypeOf), c.occurrenceType) {
		if err := c.add(n); err != nil {
			return err
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := c.walk(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *collector) add(n *html.Node) error {
	term := occurrence.TermID(strings.TrimSpace(attr(n, attrResource)))
	if term == "" {
		return nil
	}
	score, err := parseScore(attr(n, attrScore))
	if err != nil {
		return fmt.Errorf("%w: annotation of %s: %w", tmerrors.ErrMalformedMarkup, term, err)
	}

	about := strings.TrimSpace(attr(n, attrAbout))
	if about == "" {
		c.groups = append(c.groups, Group{Term: term, Score: score, Nodes: []*html.Node{n}})
		return nil
	}

	k := groupKey{about, term}
	if i, ok := c.index[k]; ok {
		g := &c.groups[i]
		g.Nodes = append(g.Nodes, n)
		g.Score = math.Max(g.Score, score)
		return nil
	}
	c.index[k] = len(c.groups)
	c.groups = append(c.groups, Group{Key: about, Term: term, Score: score, Nodes: []*html.Node{n}})
	return nil
}

func parseScore(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	score, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", v)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0, fmt.Errorf("invalid score %q", v)
	}
	return score, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}
