package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/market-scraper/internal/app"
	"github.com/maltedev/market-scraper/internal/browser"
	"github.com/maltedev/market-scraper/internal/config"
	"github.com/maltedev/market-scraper/internal/database"
	"github.com/maltedev/market-scraper/internal/storage"
	"github.com/maltedev/market-scraper/pkg/logger"
)

func main() {
	var (
		inputFile  = flag.String("input", "list_url", "File with product URLs, one per line")
		outputDir  = flag.String("output", "", "Directory for data_<n>.json batches (default SCRAPER_OUTPUT_DIR)")
		delay      = flag.Duration("delay", 0, "Fixed delay between products, overrides SCRAPER_DELAY_MIN/MAX")
		debug      = flag.Bool("debug", false, "Log title candidates and other debug output")
		useBrowser = flag.Bool("browser", false, "Render product pages in a headless browser")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *delay > 0 {
		cfg.Scraper.DelayMin = *delay
		cfg.Scraper.DelayMax = *delay
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useBrowser {
		cfg.Scraper.UseBrowser = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	code := run(ctx, cfg, *inputFile, *outputDir, logger)
	cancel()
	os.Exit(code)
}

// run parses every URL of inputFile and returns the process exit code.
// Everything it opens is closed before it returns.
func run(ctx context.Context, cfg *config.Config, inputFile, outputDir string, logger *slog.Logger) int {
	urls, err := storage.ReadURLFile(inputFile)
	if err != nil {
		logger.Error("failed to read URL list", "file", inputFile, "error", err)
		return 1
	}
	if len(urls) == 0 {
		logger.Error("URL list is empty", "file", inputFile)
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer db.Close()
	}

	if cfg.Redis.Enabled {
		client, err := app.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			return 1
		}
		defer client.Close()

		relay := app.NewRelay(cfg.Redis, db, client, logger)
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	var b *browser.Browser
	if cfg.Scraper.UseBrowser {
		b, err = browser.New(app.BrowserOptions(cfg), logger)
		if err != nil {
			logger.Error("failed to initialize browser", "error", err)
			return 1
		}
		defer b.Close()
	}

	sinks, batch, err := app.NewSinks(cfg, outputDir, db, logger)
	if err != nil {
		logger.Error("failed to prepare output", "error", err)
		return 1
	}

	s := app.NewScraper(cfg.Scraper, app.NewFetcher(cfg.Scraper, b), logger)

	logger.Info("starting product parse", "urls", len(urls), "sinks", sinks.Len(), "browser", b != nil)
	start := time.Now()

	stats, runErr := s.Run(ctx, urls, sinks)

	if err := sinks.Close(); err != nil {
		logger.Error("failed to flush records", "error", err)
	}

	logger.Info("product parse finished",
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"sink_errors", stats.SinkErrors,
		"files", len(batch.Files()),
		"duration", time.Since(start).Round(time.Second),
	)

	if runErr != nil {
		logger.Warn("run interrupted", "processed", stats.Total, "of", len(urls), "error", runErr)
		return 1
	}
	return 0
}
