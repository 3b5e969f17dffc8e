package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/market-scraper/internal/browser"
)

// BrowserRenderer renders listing pages in a real browser, scrolling until
// the infinite feed stops growing.
type BrowserRenderer struct {
	browser     *browser.Browser
	maxRounds   int
	scrollPause time.Duration
	anchorWait  time.Duration
	logger      *slog.Logger
}

func NewBrowserRenderer(b *browser.Browser, logger *slog.Logger) *BrowserRenderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BrowserRenderer{
		browser:     b,
		maxRounds:   12,
		scrollPause: 800 * time.Millisecond,
		anchorWait:  15 * time.Second,
		logger:      logger.With("component", "listing_renderer"),
	}
}

func (r *BrowserRenderer) Render(ctx context.Context, url string) (string, string, error) {
	page, err := r.browser.NewPage()
	if err != nil {
		return "", "", err
	}
	defer page.Close()

	if err := r.browser.Navigate(page, url); err != nil {
		return "", "", err
	}

	if err := r.scrollToLoad(ctx, page); err != nil {
		return "", "", err
	}

	if _, err := page.WaitForSelector(productAnchorSelector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(r.anchorWait.Milliseconds())),
	}); err != nil {
		r.logger.Debug("no product anchors after scrolling", "url", url)
	}

	html, err := page.Content()
	if err != nil {
		return "", "", fmt.Errorf("failed to read page content: %w", err)
	}
	return page.URL(), html, nil
}

// scrollToLoad scrolls to the bottom until the document height is stable
// for one round, nudging the viewport once before giving up.
func (r *BrowserRenderer) scrollToLoad(ctx context.Context, page playwright.Page) error {
	last, err := scrollHeight(page)
	if err != nil {
		return err
	}

	for round := 0; round < r.maxRounds; round++ {
		if _, err := page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := sleep(ctx, r.scrollPause); err != nil {
			return err
		}

		height, err := scrollHeight(page)
		if err != nil {
			return err
		}
		if height == last {
			page.Evaluate(`() => window.scrollBy(0, -200)`)
			if err := sleep(ctx, 300*time.Millisecond); err != nil {
				return err
			}
			page.Evaluate(`() => window.scrollBy(0, 200)`)
			if err := sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
			if height, err = scrollHeight(page); err != nil {
				return err
			}
			if height == last {
				r.logger.Debug("feed fully loaded", "rounds", round+1)
				return nil
			}
		}
		last = height
	}
	return nil
}

func scrollHeight(page playwright.Page) (int, error) {
	v, err := page.Evaluate(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("failed to read scroll height: %w", err)
	}
	switch h := v.(type) {
	case int:
		return h, nil
	case float64:
		return int(h), nil
	default:
		return 0, fmt.Errorf("unexpected scroll height %T", v)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
