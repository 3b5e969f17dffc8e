// Package app assembles the scraper and its sinks from configuration. The
// commands share it so the CLI and the API server behave identically.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/market-scraper/internal/browser"
	"github.com/maltedev/market-scraper/internal/config"
	"github.com/maltedev/market-scraper/internal/database"
	"github.com/maltedev/market-scraper/internal/events"
	"github.com/maltedev/market-scraper/internal/parser"
	"github.com/maltedev/market-scraper/internal/ratelimit"
	"github.com/maltedev/market-scraper/internal/scraper"
	"github.com/maltedev/market-scraper/internal/storage"
)

// productReadySelector is waited on when product pages are rendered in the
// browser.
const productReadySelector = `h1, [data-auto="productCardTitle"], script[type="application/ld+json"]`

// NewLimiter paces product requests with a random delay in
// [DelayMin, DelayMax], widening it on failures when Adaptive is set.
func NewLimiter(cfg config.ScraperConfig) ratelimit.Limiter {
	if cfg.Adaptive {
		return ratelimit.NewAdaptiveLimiter(cfg.DelayMin, cfg.DelayMax)
	}
	return ratelimit.NewJitterLimiter(cfg.DelayMin, cfg.DelayMax)
}

func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProxyServer = cfg.Browser.ProxyServer
	if cfg.Scraper.UserAgent != "" {
		opts.UserAgent = cfg.Scraper.UserAgent
	}
	return opts
}

// NewFetcher returns a browser-backed fetcher when b is set, a plain HTTP
// fetcher otherwise.
func NewFetcher(cfg config.ScraperConfig, b *browser.Browser) scraper.Fetcher {
	if b != nil {
		return browser.NewPageFetcher(b, productReadySelector)
	}
	return scraper.NewHTTPFetcher(scraper.FetcherOptions{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		Timeout:        cfg.Timeout,
	})
}

func NewScraper(cfg config.ScraperConfig, fetcher scraper.Fetcher, logger *slog.Logger) *scraper.Scraper {
	return scraper.New(
		fetcher,
		parser.NewMarketParser(parser.DefaultOptions(), logger),
		NewLimiter(cfg),
		scraper.Options{HostMarker: cfg.HostMarker, SpecThreshold: cfg.SpecThreshold},
		logger,
	)
}

// OpenDatabase connects to Postgres and makes sure the tables exist.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Name,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, err
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRelay(cfg config.RedisConfig, db *database.DB, client database.RedisClient, logger *slog.Logger) *database.Relay {
	return database.NewRelay(database.NewOutboxRepository(db), client, logger, database.RelayConfig{
		PollInterval: cfg.RelayInterval,
		BatchSize:    cfg.RelayBatch,
	})
}

// NewSinks returns the fan-out every record is written to: the JSON batch
// files in outputDir, plus Postgres with its outbox event when db is set.
func NewSinks(cfg *config.Config, outputDir string, db *database.DB, logger *slog.Logger) (*storage.Multi, *storage.JSONBatch, error) {
	if outputDir == "" {
		outputDir = cfg.Scraper.OutputDir
	}

	batch, err := storage.NewJSONBatch(outputDir, cfg.Scraper.BatchSize, logger)
	if err != nil {
		return nil, nil, err
	}

	sinks := storage.NewMulti().Add("json", batch)
	if db != nil {
		publisher := events.NewPublisher(db, cfg.Redis.Stream, logger)
		sinks.Add("postgres", storage.NewPostgresSink(publisher))
	}
	return sinks, batch, nil
}
