package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/market-scraper/internal/models"
	"github.com/maltedev/market-scraper/internal/parser"
)

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	panics map[string]bool
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, u string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, u)
	if f.panics[u] {
		panic("boom")
	}
	html, ok := f.pages[u]
	if !ok {
		return "", fmt.Errorf("%w: HTTP 404 for %s", ErrFetch, u)
	}
	return html, nil
}

type memorySink struct {
	records []*models.ProductRecord
	err     error
}

func (s *memorySink) Write(_ context.Context, rec *models.ProductRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

type countingLimiter struct {
	waits     int
	successes int
	errors    int
}

func (l *countingLimiter) Wait(context.Context) error { l.waits++; return nil }

func (l *countingLimiter) SetDelay(time.Duration, time.Duration) {}

func (l *countingLimiter) RecordSuccess() { l.successes++ }

func (l *countingLimiter) RecordError() { l.errors++ }

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestScraper(f Fetcher, l *countingLimiter) *Scraper {
	var s *Scraper
	if l != nil {
		s = New(f, parser.NewMarketParser(parser.DefaultOptions(), nil), l, DefaultOptions(), nil)
	} else {
		s = New(f, parser.NewMarketParser(parser.DefaultOptions(), nil), nil, DefaultOptions(), nil)
	}
	s.now = func() time.Time { return fixedTime }
	return s
}

func dlWidget(prefix string, n int) string {
	var b strings.Builder
	b.WriteString(`<div data-auto="product-specs"><dl>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<dt>%s key %d</dt><dd>value %d</dd>", prefix, i, i)
	}
	b.WriteString(`</dl></div>`)
	return b.String()
}

const productURL = "https://market.yandex.ru/product--phone-x/123"

func TestParseProductStructuredMetadata(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
		{"@type":"Product","name":"Phone X — buy at BestShop",
		 "offers":{"price":"19999.00","priceCurrency":"RUB"}}
	</script></head><body></body></html>`
	f := &fakeFetcher{pages: map[string]string{productURL: page}}

	rec, err := newTestScraper(f, nil).ParseProduct(context.Background(), productURL)
	require.NoError(t, err)

	require.NotNil(t, rec.Name)
	assert.Equal(t, "Phone X", *rec.Name)
	require.NotNil(t, rec.NameSource)
	assert.Equal(t, models.SourceJSONLD, *rec.NameSource)
	require.NotNil(t, rec.Price)
	assert.Equal(t, 19999.0, *rec.Price)
	assert.Equal(t, "RUB", rec.Currency)
	assert.Equal(t, fixedTime, rec.FetchedAt)
	assert.Empty(t, rec.Error)
}

func TestParseProductUsesSecondarySpecPage(t *testing.T) {
	primary := `<html><body><h1>Phone X</h1>` + dlWidget("primary", 3) +
		`<a href="/product--phone-x/123/spec?track=1">Все характеристики</a></body></html>`
	secondary := `<html><body>` + dlWidget("full", 10) + `</body></html>`
	f := &fakeFetcher{pages: map[string]string{
		productURL: primary,
		"https://market.yandex.ru/product--phone-x/123/spec?track=1": secondary,
	}}

	rec, err := newTestScraper(f, nil).ParseProduct(context.Background(), productURL)
	require.NoError(t, err)

	assert.Len(t, rec.Specs, 10)
	assert.Equal(t, "value 9", rec.Specs["full key 9"])
	assert.NotContains(t, rec.Specs, "primary key 0")
}

func TestParseProductKeepsCompletePrimary(t *testing.T) {
	primary := `<html><body>` + dlWidget("primary", 8) + `</body></html>`
	f := &fakeFetcher{pages: map[string]string{productURL: primary}}

	rec, err := newTestScraper(f, nil).ParseProduct(context.Background(), productURL)
	require.NoError(t, err)

	assert.Len(t, rec.Specs, 8)
	assert.Equal(t, []string{productURL}, f.calls)
}

func TestParseProductToleratesFailingCandidates(t *testing.T) {
	primary := `<html><body>` + dlWidget("primary", 3) +
		`<a href="https://market.yandex.ru/broken/spec">specs</a></body></html>`
	f := &fakeFetcher{pages: map[string]string{productURL: primary}}

	rec, err := newTestScraper(f, nil).ParseProduct(context.Background(), productURL)
	require.NoError(t, err)

	assert.Len(t, rec.Specs, 3)
	assert.Equal(t, []string{
		productURL,
		"https://market.yandex.ru/broken/spec",
		productURL + "/spec",
	}, f.calls)
}

func TestParseProductRejectsForeignHost(t *testing.T) {
	f := &fakeFetcher{}

	_, err := newTestScraper(f, nil).ParseProduct(context.Background(), "https://example.com/product/1")
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Empty(t, f.calls)
}

func TestParseProductWrapsFetchErrors(t *testing.T) {
	f := FetcherFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection reset")
	})

	_, err := newTestScraper(f, nil).ParseProduct(context.Background(), productURL)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRunEmitsErrorRecords(t *testing.T) {
	good := "https://market.yandex.ru/product--good/1"
	missing := "https://market.yandex.ru/product--missing/2"
	panicky := "https://market.yandex.ru/product--panic/3"
	f := &fakeFetcher{
		pages:  map[string]string{good: `<html><body><h1>Good Phone</h1></body></html>`},
		panics: map[string]bool{panicky: true},
	}
	limiter := &countingLimiter{}
	sink := &memorySink{}

	stats, err := newTestScraper(f, limiter).Run(context.Background(), []string{good, missing, panicky, "not a url"}, sink)
	require.NoError(t, err)

	assert.Equal(t, RunStats{Total: 4, Succeeded: 1, Failed: 3}, stats)
	assert.Equal(t, 4, limiter.waits)
	assert.Equal(t, 1, limiter.successes)
	assert.Equal(t, 3, limiter.errors)

	require.Len(t, sink.records, 4)
	assert.False(t, sink.records[0].Failed())

	failed := sink.records[1]
	assert.Equal(t, missing, failed.URL)
	assert.Contains(t, failed.Error, "HTTP 404")
	assert.Nil(t, failed.Name)
	assert.Nil(t, failed.NameSource)
	assert.Nil(t, failed.Price)
	assert.Empty(t, failed.Currency)
	assert.Nil(t, failed.About.Text)
	assert.Empty(t, failed.About.Bullets)
	assert.Empty(t, failed.Specs)

	assert.Contains(t, sink.records[2].Error, "panic: boom")
	assert.Contains(t, sink.records[3].Error, ErrInvalidURL.Error())
}

func TestRunContinuesAfterSinkErrors(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{productURL: `<h1>Phone X</h1>`}}
	sink := &memorySink{err: errors.New("disk full")}

	stats, err := newTestScraper(f, nil).Run(context.Background(), []string{productURL, productURL}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SinkErrors)
	assert.Len(t, sink.records, 2)
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memorySink{}

	_, err := newTestScraper(&fakeFetcher{}, nil).Run(ctx, []string{productURL}, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.records)
}

func TestSpecPageURL(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"https://market.yandex.ru/product--x/1", "https://market.yandex.ru/product--x/1/spec"},
		{"https://market.yandex.ru/product--x/1/", "https://market.yandex.ru/product--x/1/spec"},
		{"https://market.yandex.ru/product--x/1?sku=2#reviews", "https://market.yandex.ru/product--x/1/spec"},
		{"https://market.yandex.ru/product--x/1/spec", "https://market.yandex.ru/product--x/1/spec"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, SpecPageURL(u))
		})
	}
}

func TestSpecPageCandidates(t *testing.T) {
	base, err := url.Parse(productURL)
	require.NoError(t, err)

	p := parser.NewMarketParser(parser.DefaultOptions(), nil)
	doc, err := p.ParseDocument(`<html><body>
		<a href="/product--phone-x/123/spec">Характеристики</a>
		<a href="/product--phone-x/123/spec#top">again</a>
		<a href="/reviews">Отзывы</a>
		<a href="/other">All specifications</a>
		<a href="mailto:spec@example.com">mail</a>
		<a href="` + productURL + `">Характеристики товара</a>
	</body></html>`)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://market.yandex.ru/product--phone-x/123/spec",
		"https://market.yandex.ru/other",
	}, SpecPageCandidates(base, doc))
}
