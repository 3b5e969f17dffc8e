package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/market-scraper/internal/app"
	"github.com/maltedev/market-scraper/internal/browser"
	"github.com/maltedev/market-scraper/internal/config"
	"github.com/maltedev/market-scraper/internal/consumer"
	"github.com/maltedev/market-scraper/internal/database"
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	client, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// Records announced through the outbox are relayed by this process too,
	// so a consumer alone is enough for the request/response loop.
	if cfg.Redis.Enabled {
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
			os.Exit(1)
		}
		defer b.Close()
	}

	sinks, _, err := app.NewSinks(cfg, "", db, logger)
	if err != nil {
		logger.Error("failed to prepare output", "error", err)
		os.Exit(1)
	}
	defer sinks.Close()

	s := app.NewScraper(cfg.Scraper, app.NewFetcher(cfg.Scraper, b), logger)

	c := consumer.New(client, s, sinks, consumer.Config{
		Stream:   cfg.Redis.RequestStream,
		Group:    cfg.Redis.ConsumerGroup,
		Consumer: cfg.Redis.ConsumerName,
	}, logger)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
