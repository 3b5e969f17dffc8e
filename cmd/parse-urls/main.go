package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/market-scraper/internal/app"
	"github.com/maltedev/market-scraper/internal/browser"
	"github.com/maltedev/market-scraper/internal/config"
	"github.com/maltedev/market-scraper/internal/crawler"
	"github.com/maltedev/market-scraper/pkg/logger"
)

func main() {
	var (
		outFile    = flag.String("out", "links.txt", "File the product links are written to")
		pages      = flag.Int("pages", 1, "Number of listing pages to visit")
		noHeadless = flag.Bool("no-headless", false, "Show the browser window")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <listing url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	listURL := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *noHeadless {
		cfg.Browser.Headless = false
	}

	logger := logger.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	b, err := browser.New(app.BrowserOptions(cfg), logger)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	c := crawler.New(crawler.NewBrowserRenderer(b, logger), crawler.Options{
		Pages: *pages,
		Delay: cfg.Scraper.DelayMin,
	}, logger)

	links, err := c.Crawl(ctx, listURL)
	if err != nil {
		logger.Error("crawl failed", "error", err)
		b.Close()
		os.Exit(1)
	}

	if err := crawler.WriteLinks(*outFile, links); err != nil {
		logger.Error("failed to save links", "file", *outFile, "error", err)
		b.Close()
		os.Exit(1)
	}

	logger.Info("links saved", "file", *outFile, "count", len(links))
}
