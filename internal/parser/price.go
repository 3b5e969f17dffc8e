package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
)

var (
	metaPriceSelectors    = compileSelectors(`meta[itemprop="price"]`, `meta[property="product:price:amount"]`)
	metaCurrencySelectors = compileSelectors(`meta[itemprop="priceCurrency"]`, `meta[property="product:price:currency"]`)
	visiblePriceSelectors = compileSelectors(`[data-auto="mainPrice"], [data-baobab-name="price"]`)
)

// ExtractPrice tries structured data, then price meta tags, then the visible
// price element. The first source yielding a number wins. Currency defaults
// to RUB.
func (p *MarketParser) ExtractPrice(doc *goquery.Document, structured *StructuredData) (*float64, string) {
	if structured != nil {
		if price, currency := structured.Price(); price != nil {
			return price, currencyOrDefault(currency, metaCurrency(doc))
		}
	}

	currency := metaCurrency(doc)

	if tag := metaPriceSelectors.first(doc.Selection); tag != nil {
		if content, ok := tag.Attr("content"); ok {
			if price := NormalizePrice(content); price != nil {
				return price, currencyOrDefault(currency, "")
			}
		}
	}

	if node := visiblePriceSelectors.first(doc.Selection); node != nil {
		if price := NormalizePrice(textOf(node, " ")); price != nil {
			return price, currencyOrDefault(currency, "")
		}
	}

	return nil, currencyOrDefault(currency, "")
}

func metaCurrency(doc *goquery.Document) string {
	tag := metaCurrencySelectors.first(doc.Selection)
	if tag == nil {
		return ""
	}
	content, _ := tag.Attr("content")
	return strings.TrimSpace(content)
}

func currencyOrDefault(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return models.DefaultCurrency
}
