package parser

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
)

var h1Selectors = compileSelectors(
	`h1[data-auto="product-card-title"]`,
	`h1[data-auto="title"]`,
	`h1[itemprop="name"]`,
	`h1`,
)

var sourceBonus = map[models.NameSource]int{
	models.SourceH1:      40,
	models.SourceJSONLD:  30,
	models.SourceTwitter: 20,
	models.SourceOG:      15,
	models.SourceTitle:   5,
}

type scoredTitle struct {
	score  int
	text   string
	source models.NameSource
}

// ExtractH1 returns the first normalizable heading among the h1 selectors.
func ExtractH1(doc *goquery.Document) *string {
	for _, m := range h1Selectors {
		node := doc.FindMatcher(m).First()
		if node.Length() == 0 {
			continue
		}
		if t := NormalizeTitle(textOf(node, " ")); t != nil {
			return t
		}
	}
	return nil
}

// CollectTitleCandidates gathers one normalized candidate per source.
func CollectTitleCandidates(doc *goquery.Document, structured *StructuredData) []models.TitleCandidate {
	var cands []models.TitleCandidate
	add := func(t *string, src models.NameSource) {
		if t != nil {
			cands = append(cands, models.TitleCandidate{Text: *t, Source: src})
		}
	}

	add(ExtractH1(doc), models.SourceH1)
	if structured != nil {
		add(structured.Name(), models.SourceJSONLD)
	}
	add(metaTitle(doc, `meta[property="og:title"]`), models.SourceOG)
	add(metaTitle(doc, `meta[name="twitter:title"]`), models.SourceTwitter)
	if title := doc.Find("title").First(); title.Length() > 0 {
		add(NormalizeTitle(title.Text()), models.SourceTitle)
	}

	return cands
}

func metaTitle(doc *goquery.Document, selector string) *string {
	content, ok := doc.Find(selector).First().Attr("content")
	if !ok || content == "" {
		return nil
	}
	return NormalizeTitle(content)
}

// ChooseBestTitle ranks the candidates and returns the winner with its
// source. Equal scores keep their input order.
func ChooseBestTitle(cands []models.TitleCandidate) (*string, *models.NameSource) {
	scored := rankTitles(cands)
	if len(scored) == 0 {
		return nil, nil
	}
	best := scored[0]
	return &best.text, &best.source
}

func rankTitles(cands []models.TitleCandidate) []scoredTitle {
	seen := make(map[string]bool)
	scored := make([]scoredTitle, 0, len(cands))

	for _, c := range cands {
		t := NormalizeTitle(c.Text)
		if t == nil {
			continue
		}
		key := strings.ToLower(*t)
		if seen[key] {
			continue
		}
		seen[key] = true
		scored = append(scored, scoredTitle{
			score:  scoreTitle(*t, c.Source),
			text:   *t,
			source: c.Source,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	return scored
}

func scoreTitle(title string, source models.NameSource) int {
	score := 100

	switch n := utf8.RuneCountInString(title); {
	case n >= 20 && n <= 80:
		score += 20
	case (n >= 8 && n < 20) || (n > 80 && n <= 120):
		score += 10
	}

	low := strings.ToLower(title)
	if containsAny(low, badTailKeywords) {
		score -= 50
	}
	if containsAny(low, badAnywhereKeywords) {
		score -= 30
	}

	return score + sourceBonus[source]
}

func (p *MarketParser) ExtractTitle(doc *goquery.Document, structured *StructuredData) (*string, *models.NameSource) {
	scored := rankTitles(CollectTitleCandidates(doc, structured))
	for _, s := range scored {
		p.logger.Debug("title candidate", "score", s.score, "source", s.source, "title", s.text)
	}
	if len(scored) == 0 {
		return nil, nil
	}
	best := scored[0]
	return &best.text, &best.source
}
