package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
)

var aboutSelectors = compileSelectors(
	`[data-auto="product-about"]`,
	`[data-auto="ProductCardInformation"]`,
	`[data-zone-name="about"]`,
	`[data-widget="webProductDescription"]`,
)

var metaDescriptionSelectors = []string{
	`meta[property="og:description"]`,
	`meta[name="description"]`,
}

const blockContainers = "section, article, div"

// FindAboutSection locates the product description region: a known widget
// first, else the nearest block container around an "About the product"
// heading.
func FindAboutSection(doc *goquery.Document) *goquery.Selection {
	if node := aboutSelectors.first(doc.Selection); node != nil {
		return node
	}

	var header *goquery.Selection
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := textOf(s, ""); t != "" && aboutHeaderPattern.MatchString(t) {
			header = s
			return false
		}
		return true
	})
	if header == nil {
		return nil
	}
	return nearestAncestor(header, blockContainers)
}

// AboutFromSection pulls prose and bullets out of an about region.
func (p *MarketParser) AboutFromSection(section *goquery.Selection) (*string, []string) {
	if section == nil {
		return nil, nil
	}

	var bullets []string
	section.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		bullets = append(bullets, bulletsFromList(list)...)
	})

	var paras []string
	section.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		if s.Find("button, a").Length() > 0 {
			return
		}
		t := NormalizeTextBlock(textOf(s, " "))
		if t != nil && utf8.RuneCountInString(*t) > p.opts.MinParagraphLength {
			paras = append(paras, *t)
		}
	})

	if len(paras) == 0 && len(bullets) == 0 {
		if raw := NormalizeTextBlock(textOf(section, " ")); raw != nil {
			paras = []string{*raw}
		}
	}
	if len(paras) == 0 {
		return nil, bullets
	}

	text := paras[0]
	if len(paras) > 1 {
		if joined := text + " " + paras[1]; utf8.RuneCountInString(joined) < p.opts.AboutJoinLimit {
			text = joined
		}
	}
	return NormalizeTextBlock(text), bullets
}

func bulletsFromList(list *goquery.Selection) []string {
	var items []string
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		if t := NormalizeTextBlock(textOf(li, " ")); t != nil {
			items = append(items, *t)
		}
	})
	return items
}

func metaDescription(doc *goquery.Document) *string {
	for _, sel := range metaDescriptionSelectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if t := NormalizeTextBlock(content); t != nil {
				return t
			}
		}
	}
	return nil
}

// ExtractAbout prefers the structured description, falls back to the meta
// description, and lets the DOM text win when it is strictly longer.
func (p *MarketParser) ExtractAbout(doc *goquery.Document, structured *StructuredData) models.About {
	about := models.About{Bullets: make([]string, 0)}

	var text *string
	if structured != nil {
		text = structured.Description()
	}
	if text == nil {
		text = metaDescription(doc)
	}

	domText, domBullets := p.AboutFromSection(FindAboutSection(doc))
	if domText != nil && (text == nil || utf8.RuneCountInString(*domText) > utf8.RuneCountInString(*text)) {
		text = domText
	}
	if len(domBullets) > 0 {
		about.Bullets = domBullets
	}

	if text != nil {
		t := strings.TrimSpace(truncateRunes(*text, p.opts.AboutTextLimit))
		if t != "" {
			about.Text = &t
		}
	}
	return about
}
