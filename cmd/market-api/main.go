package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/maltedev/market-scraper/internal/api"
	"github.com/maltedev/market-scraper/internal/app"
	"github.com/maltedev/market-scraper/internal/browser"
	"github.com/maltedev/market-scraper/internal/config"
	"github.com/maltedev/market-scraper/internal/crawler"
	"github.com/maltedev/market-scraper/internal/database"
	"github.com/maltedev/market-scraper/internal/jobs"
	"github.com/maltedev/market-scraper/internal/queue"
	"github.com/maltedev/market-scraper/internal/ratelimit"
	"github.com/maltedev/market-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.Init(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		db     *database.DB
		outbox api.OutboxStats
	)
	if cfg.Database.Enabled {
		db, err = app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		outbox = database.NewOutboxRepository(db)
	}

	var background sync.WaitGroup

	if cfg.Redis.Enabled {
		client, err := app.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		relay := app.NewRelay(cfg.Redis, db, client, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	// Listing crawls always need the browser; product pages only with
	// SCRAPER_USE_BROWSER.
	b, err := browser.New(app.BrowserOptions(cfg), logger)
	if err != nil {
		if cfg.Scraper.UseBrowser {
			logger.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		logger.Warn("browser unavailable, crawl jobs disabled", "error", err)
		b = nil
	} else {
		defer b.Close()
	}

	productBrowser := b
	if !cfg.Scraper.UseBrowser {
		productBrowser = nil
	}
	s := app.NewScraper(cfg.Scraper, app.NewFetcher(cfg.Scraper, productBrowser), logger)

	sinks, _, err := app.NewSinks(cfg, "", db, logger)
	if err != nil {
		logger.Error("failed to prepare output", "error", err)
		os.Exit(1)
	}
	defer sinks.Close()

	var listingCrawler jobs.Crawler
	if b != nil {
		renderer := crawler.NewBrowserRenderer(b, logger)
		listingCrawler = jobs.CrawlerFunc(func(ctx context.Context, listURL string, pages int) ([]string, error) {
			return crawler.New(renderer, crawler.Options{Pages: pages, Delay: cfg.Scraper.DelayMin}, logger).Crawl(ctx, listURL)
		})
	}

	taskQueue := queue.NewInMemoryQueue()
	jobManager := jobs.NewManager(taskQueue, s, listingCrawler, sinks, logger)

	background.Add(1)
	go func() {
		defer background.Done()
		jobManager.StartWorkers(ctx, cfg.Jobs.Workers)
	}()

	handlers := api.NewHandlers(api.Deps{
		Parser:  s,
		Jobs:    jobManager,
		Sink:    sinks,
		Outbox:  outbox,
		Limiter: ratelimit.NewTokenBucket(cfg.Server.RateLimitBurst, cfg.Server.RateLimitRefill),
	}, logger)

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
			ExposeMetrics:  cfg.Metrics.Enabled,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 2,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		taskQueue.Close()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr, "workers", cfg.Jobs.Workers, "database", db != nil, "redis", cfg.Redis.Enabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	background.Wait()
	logger.Info("server stopped")
}
