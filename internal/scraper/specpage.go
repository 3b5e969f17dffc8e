package scraper

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/market-scraper/internal/metrics"
)

var specLinkWordPattern = regexp.MustCompile(`(?i)характеристик|characteristic|specification`)

// SpecPageURL returns the conventional specification page of a product:
// its path with a single "/spec" suffix, without query or fragment.
func SpecPageURL(product *url.URL) string {
	u := *product
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/spec") {
		u.Path += "/spec"
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SpecPageCandidates lists pages that may hold the full specification of
// the product at base, in document order followed by the constructed
// /spec URL. The product page itself and non-http targets are skipped.
func SpecPageCandidates(base *url.URL, doc *goquery.Document) []string {
	self := stripFragment(base)
	seen := map[string]bool{self: true}
	candidates := make([]string, 0, 4)

	add := func(u *url.URL) {
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		key := stripFragment(u)
		if seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, key)
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		text := strings.Join(strings.Fields(a.Text()), " ")
		if !strings.Contains(href, "spec") && !specLinkWordPattern.MatchString(text) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		add(base.ResolveReference(ref))
	})

	if constructed, err := url.Parse(SpecPageURL(base)); err == nil {
		add(constructed)
	}

	return candidates
}

// ensureSpecDocument returns the document the specification table should be
// read from: the product page when it already carries enough pairs, else
// the first candidate page that does. Candidate failures are skipped.
func (s *Scraper) ensureSpecDocument(ctx context.Context, product *url.URL, doc *goquery.Document) *goquery.Document {
	count := s.parser.CountSpecPairs(doc)
	if count >= s.opts.SpecThreshold {
		return doc
	}

	log := s.logger.With("url", product.String())
	log.Debug("specification block looks incomplete", "pairs", count, "threshold", s.opts.SpecThreshold)

	for _, candidate := range SpecPageCandidates(product, doc) {
		if ctx.Err() != nil {
			break
		}

		html, err := s.fetcher.Fetch(ctx, candidate)
		if err != nil {
			metrics.SecondaryFetchesTotal.WithLabelValues("failed").Inc()
			log.Debug("specification candidate fetch failed", "candidate", candidate, "error", err)
			continue
		}
		candidateDoc, err := s.parser.ParseDocument(html)
		if err != nil {
			metrics.SecondaryFetchesTotal.WithLabelValues("failed").Inc()
			log.Debug("specification candidate unparsable", "candidate", candidate, "error", err)
			continue
		}

		n := s.parser.CountSpecPairs(candidateDoc)
		if n >= s.opts.SpecThreshold {
			metrics.SecondaryFetchesTotal.WithLabelValues("accepted").Inc()
			log.Debug("using specification page", "candidate", candidate, "pairs", n)
			return candidateDoc
		}
		metrics.SecondaryFetchesTotal.WithLabelValues("insufficient").Inc()
	}

	return doc
}

func stripFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
