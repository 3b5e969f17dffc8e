package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/metrics"
	"github.com/maltedev/market-scraper/internal/models"
	"github.com/maltedev/market-scraper/internal/parser"
	"github.com/maltedev/market-scraper/internal/ratelimit"
)

var (
	ErrInvalidURL = errors.New("invalid marketplace URL")
	ErrFetch      = errors.New("failed to fetch page")
)

// Sink receives every assembled record exactly once.
type Sink interface {
	Write(ctx context.Context, rec *models.ProductRecord) error
}

type Options struct {
	// HostMarker must appear in the host of every product URL.
	HostMarker string
	// SpecThreshold is the pair count at which a page's specification
	// block is considered complete.
	SpecThreshold int
}

func DefaultOptions() Options {
	return Options{
		HostMarker:    "market.yandex",
		SpecThreshold: 8,
	}
}

// RunStats summarizes a batch run.
type RunStats struct {
	Total      int
	Succeeded  int
	Failed     int
	SinkErrors int
}

type Scraper struct {
	fetcher Fetcher
	parser  parser.Parser
	limiter ratelimit.Limiter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Scraper. limiter may be nil, in which case URLs of a batch
// are processed back to back.
func New(fetcher Fetcher, p parser.Parser, limiter ratelimit.Limiter, opts Options, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	defaults := DefaultOptions()
	if opts.HostMarker == "" {
		opts.HostMarker = defaults.HostMarker
	}
	if opts.SpecThreshold <= 0 {
		opts.SpecThreshold = defaults.SpecThreshold
	}

	return &Scraper{
		fetcher: fetcher,
		parser:  p,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "scraper"),
		now:     time.Now,
	}
}

// ValidateURL checks that raw points at the marketplace.
func (s *Scraper) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.Contains(strings.ToLower(u.Host), s.opts.HostMarker) {
		return nil, fmt.Errorf("%w: host %q is not %s.*", ErrInvalidURL, u.Host, s.opts.HostMarker)
	}
	return u, nil
}

// ParseProduct fetches one product page and assembles its record. The host
// is validated before any network call.
func (s *Scraper) ParseProduct(ctx context.Context, rawURL string) (*models.ProductRecord, error) {
	start := time.Now()
	defer func() {
		metrics.ParseDuration.Observe(time.Since(start).Seconds())
	}()

	u, err := s.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetchDocument(ctx, u.String())
	if err != nil {
		return nil, err
	}

	structured := s.parser.ReadStructured(doc)
	name, source := s.parser.ExtractTitle(doc, structured)
	price, currency := s.parser.ExtractPrice(doc, structured)
	about := s.parser.ExtractAbout(doc, structured)

	specDoc := s.ensureSpecDocument(ctx, u, doc)
	specs := s.parser.ExtractSpecs(structured, specDoc)

	rec := models.NewProductRecord(rawURL, s.now())
	rec.Name = name
	rec.NameSource = source
	rec.Price = price
	rec.Currency = currency
	rec.About = about
	rec.Specs = specs
	return rec, nil
}

// Run processes urls in order and hands one record per URL to sink. Per-URL
// failures, panics included, become error records; sink failures are logged
// and counted. Only context cancellation stops the loop early.
func (s *Scraper) Run(ctx context.Context, urls []string, sink Sink) (RunStats, error) {
	stats := RunStats{}
	feedback, _ := s.limiter.(ratelimit.Feedback)

	for i, raw := range urls {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}

		rec := s.parseSafely(ctx, raw)
		stats.Total++
		if rec.Failed() {
			stats.Failed++
			if feedback != nil {
				feedback.RecordError()
			}
			s.logger.Warn("product failed", "index", i+1, "total", len(urls), "url", raw, "error", rec.Error)
		} else {
			stats.Succeeded++
			if feedback != nil {
				feedback.RecordSuccess()
			}
			s.logRecord(i+1, len(urls), rec)
		}
		observeRecord(rec)

		if err := sink.Write(ctx, rec); err != nil {
			stats.SinkErrors++
			s.logger.Error("failed to write record", "url", raw, "error", err)
		}
	}

	return stats, nil
}

func (s *Scraper) parseSafely(ctx context.Context, raw string) (rec *models.ProductRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while parsing product", "url", raw, "panic", r)
			rec = models.NewErrorRecord(raw, fmt.Errorf("panic: %v", r), s.now())
		}
	}()

	var err error
	rec, err = s.ParseProduct(ctx, raw)
	if err != nil {
		return models.NewErrorRecord(raw, err, s.now())
	}
	return rec
}

func (s *Scraper) fetchDocument(ctx context.Context, target string) (*goquery.Document, error) {
	html, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return nil, err
	}
	return s.parser.ParseDocument(html)
}

func (s *Scraper) logRecord(index, total int, rec *models.ProductRecord) {
	attrs := []any{
		"index", index,
		"total", total,
		"url", rec.URL,
		"has_about", rec.HasAbout(),
		"specs", len(rec.Specs),
		"currency", rec.Currency,
	}
	if rec.Name != nil {
		attrs = append(attrs, "name", *rec.Name)
	}
	if rec.NameSource != nil {
		attrs = append(attrs, "name_source", string(*rec.NameSource))
	}
	if rec.Price != nil {
		attrs = append(attrs, "price", *rec.Price)
	}
	s.logger.Info("product parsed", attrs...)
}

func observeRecord(rec *models.ProductRecord) {
	if rec.Failed() {
		metrics.RecordsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.RecordsTotal.WithLabelValues("ok").Inc()
	metrics.SpecPairs.Observe(float64(len(rec.Specs)))
}
