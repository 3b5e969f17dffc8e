package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/market-scraper/internal/metrics"
	"github.com/maltedev/market-scraper/internal/ratelimit"
)

const (
	productLinkSelector = `[data-zone-name="productSnippet"] a[href^="/product--"], ` +
		`[data-zone-name="productSnippet"] a[href^="/card/"]`
	productAnchorSelector = `a[href*='/product--'], a[href^='/card/']`
)

// Renderer loads a listing page until its lazy content is in place and
// returns the final URL together with the markup.
type Renderer interface {
	Render(ctx context.Context, url string) (finalURL string, html string, err error)
}

type Options struct {
	Pages int
	// Delay between listing pages; zero disables pacing.
	Delay time.Duration
}

func DefaultOptions() Options {
	return Options{Pages: 1}
}

type Crawler struct {
	renderer Renderer
	limiter  ratelimit.Limiter
	opts     Options
	logger   *slog.Logger
}

func New(r Renderer, opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Pages < 1 {
		opts.Pages = 1
	}

	return &Crawler{
		renderer: r,
		limiter:  ratelimit.NewFixedLimiter(opts.Delay),
		opts:     opts,
		logger:   logger.With("component", "crawler"),
	}
}

// Crawl visits the first opts.Pages pages of the listing at listURL and
// returns the sorted, de-duplicated product links found on them. Pages
// that fail to render or land on a captcha are skipped.
func (c *Crawler) Crawl(ctx context.Context, listURL string) ([]string, error) {
	c.logger.Info("starting listing crawl", "url", listURL, "pages", c.opts.Pages)

	all := make(map[string]bool)
	for page := 1; page <= c.opts.Pages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		pageURL, err := PageURL(listURL, page)
		if err != nil {
			return nil, err
		}

		finalURL, html, err := c.renderer.Render(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("failed to render listing page", "page", page, "url", pageURL, "error", err)
			continue
		}
		if IsChallengeURL(finalURL) {
			c.logger.Warn("captcha page detected, skipping", "page", page, "url", finalURL)
			continue
		}

		links, err := ExtractLinks(finalURL, html)
		if err != nil {
			c.logger.Error("failed to parse listing page", "page", page, "error", err)
			continue
		}

		c.logger.Info("listing page processed", "page", page, "links", len(links))
		metrics.ListingLinksTotal.Add(float64(len(links)))
		for _, l := range links {
			all[l] = true
		}
	}

	links := make([]string, 0, len(all))
	for l := range all {
		links = append(links, l)
	}
	sort.Strings(links)

	c.logger.Info("listing crawl completed", "unique_links", len(links))
	return links, nil
}

// PageURL returns listURL for page 1 and listURL with the page query
// parameter set for later pages.
func PageURL(listURL string, page int) (string, error) {
	if page <= 1 {
		return listURL, nil
	}

	u, err := url.Parse(listURL)
	if err != nil {
		return "", fmt.Errorf("invalid listing URL: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func IsChallengeURL(u string) bool {
	return strings.Contains(strings.ToLower(u), "captcha")
}

// ExtractLinks returns the absolute product links of a listing's snippets,
// resolved against base and stripped of fragments, in document order.
func ExtractLinks(base string, html string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(productLinkSelector).Each(func(_ int, a *goquery.Selection) {
		href, _, _ := strings.Cut(a.AttrOr("href", ""), "#")
		if href = strings.TrimSpace(href); href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links, nil
}

// WriteLinks stores links one per line, sorted. The file is replaced
// atomically.
func WriteLinks(filename string, links []string) error {
	sorted := append([]string(nil), links...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, l := range sorted {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write links: %w", err)
	}
	return os.Rename(tmpFile, filename)
}
