package parser

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
)

type Parser interface {
	ParseDocument(html string) (*goquery.Document, error)
	ReadStructured(doc *goquery.Document) *StructuredData
	ExtractTitle(doc *goquery.Document, structured *StructuredData) (*string, *models.NameSource)
	ExtractPrice(doc *goquery.Document, structured *StructuredData) (*float64, string)
	ExtractAbout(doc *goquery.Document, structured *StructuredData) models.About
	CountSpecPairs(doc *goquery.Document) int
	ExtractSpecs(structured *StructuredData, specDoc *goquery.Document) models.SpecTable
}

// Options holds the tunable limits of the extraction heuristics.
type Options struct {
	AboutJoinLimit      int
	AboutTextLimit      int
	MinParagraphLength  int
	FallbackMinPairs    int
	GeneralSiblingLimit int
	SpecKeyLimit        int
	SpecValueLimit      int
}

func DefaultOptions() Options {
	return Options{
		AboutJoinLimit:      600,
		AboutTextLimit:      5000,
		MinParagraphLength:  30,
		FallbackMinPairs:    5,
		GeneralSiblingLimit: 10,
		SpecKeyLimit:        200,
		SpecValueLimit:      500,
	}
}

type MarketParser struct {
	opts   Options
	logger *slog.Logger
}

func NewMarketParser(opts Options, logger *slog.Logger) *MarketParser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MarketParser{
		opts:   opts,
		logger: logger.With("component", "parser"),
	}
}

func (p *MarketParser) ParseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
