package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// selectorList is an ordered list of precompiled selectors tried first to last.
type selectorList []cascadia.Selector

func compileSelectors(selectors ...string) selectorList {
	list := make(selectorList, 0, len(selectors))
	for _, s := range selectors {
		list = append(list, cascadia.MustCompile(s))
	}
	return list
}

// first returns the first match of the highest-priority selector that matches
// anything under s.
func (l selectorList) first(s *goquery.Selection) *goquery.Selection {
	for _, m := range l {
		if found := s.FindMatcher(m).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// all returns every match of every selector, deduplicated, in selector order.
func (l selectorList) all(s *goquery.Selection) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]bool)
	for _, m := range l {
		s.FindMatcher(m).Each(func(_ int, found *goquery.Selection) {
			n := found.Get(0)
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		})
	}
	return out
}

// textOf flattens the text below every node of s. Fragments are trimmed and
// the non-empty ones joined with sep.
func textOf(s *goquery.Selection, sep string) string {
	var parts []string
	for _, n := range s.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, sep)
}

func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	case html.ElementNode:
		if skipTextOf(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func skipTextOf(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

// soleString returns the text of n when n holds exactly one child that is
// either a text node or, recursively, an element with a sole string.
func soleString(n *html.Node) (string, bool) {
	c := n.FirstChild
	if c == nil || c.NextSibling != nil {
		return "", false
	}
	switch c.Type {
	case html.TextNode:
		return c.Data, true
	case html.ElementNode:
		return soleString(c)
	}
	return "", false
}

// nearestAncestor returns the closest ancestor of s matching selector.
func nearestAncestor(s *goquery.Selection, selector string) *goquery.Selection {
	if p := s.ParentsFiltered(selector).First(); p.Length() > 0 {
		return p
	}
	return nil
}

// selfAndFind returns s itself when it matches selector, followed by all of
// its matching descendants.
func selfAndFind(s *goquery.Selection, selector string) *goquery.Selection {
	return s.Filter(selector).AddSelection(s.Find(selector))
}

// nodesOverlap reports whether a and b are the same node or one contains the
// other.
func nodesOverlap(a, b *html.Node) bool {
	return a == b || containsNode(a, b) || containsNode(b, a)
}

func containsNode(container, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == container {
			return true
		}
	}
	return false
}

// walkText calls fn for every text node of the document outside script and
// style elements.
func walkText(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.TextNode {
		fn(n)
		return
	}
	if n.Type == html.ElementNode && skipTextOf(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, fn)
	}
}
