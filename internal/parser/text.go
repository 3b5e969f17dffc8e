package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	priceNumPattern   = regexp.MustCompile(`\d[\d \t]*(?:[.,]\d+)?`)
	dashPattern       = regexp.MustCompile(`\s*[–—-]\s*`)
	bulletTailPattern = regexp.MustCompile(`\s[•|]\s`)
	brandParenPattern = regexp.MustCompile(`(?i)\s*\((?:[^)]*яндекс[^)]*|[^)]*market[^)]*)\)\s*$`)

	aboutHeaderPattern   = regexp.MustCompile(`(?i)^\s*(?:О\s+товаре|About\s+the\s+product)\s*$`)
	specsHeaderPattern   = regexp.MustCompile(`(?i)^\s*(?:Характеристик[аиы]?|Characteristics?|Specifications?)\s*$`)
	generalSpecsPattern  = regexp.MustCompile(`(?i)^\s*(?:Общ(?:ие|ая)\s+характеристик|General\s+(?:characteristics|specifications))`)
	textBlockTrimCutset  = " \t\r\n•-"
	placeholderSpecValue = map[string]bool{"—": true, "-": true, "–": true}
)

// Marketing words that mark a title tail as marketplace boilerplate.
var badTailKeywords = []string{
	"купить", "характерист", "отзыв", "цена", "цены",
	"доставка", "яндекс", "market", "интернет-магазин", "магазин", "официальный",
	"buy", "characteristic", "review", "price", "delivery", "shop", "store", "official",
}

// Promotional words that disqualify a title outright.
var badAnywhereKeywords = []string{
	"акция", "скидк", "распродаж", "лучшие цены",
	"sale", "discount", "best prices",
}

const (
	minTitleLength = 3
	maxTitleLength = 150
)

// NormalizePrice extracts the first numeral from raw and parses it. Spaces and
// non-breaking spaces are treated as thousands separators and a comma as the
// decimal separator.
func NormalizePrice(raw string) *float64 {
	s := replaceSpecialSpaces(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	match := priceNumPattern.FindString(s)
	if match == "" {
		return nil
	}

	num := strings.NewReplacer(" ", "", "\t", "").Replace(match)
	num = strings.ReplaceAll(num, ",", ".")

	val, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	return &val
}

// NormalizeTitle strips marketplace boilerplate from a page title and returns
// nil when what remains is promotional or of implausible length.
func NormalizeTitle(raw string) *string {
	title := replaceSpecialSpaces(strings.TrimSpace(raw))
	if title == "" {
		return nil
	}

	parts := dashPattern.Split(title, -1)
	if len(parts) > 1 {
		left := strings.TrimSpace(parts[0])
		right := strings.ToLower(strings.Join(parts[1:], " "))
		if containsAny(right, badTailKeywords) {
			title = left
		}
	}

	title = strings.TrimSpace(bulletTailPattern.Split(title, 2)[0])
	// Stacked brand suffixes are stripped one at a time from the end.
	for {
		stripped := brandParenPattern.ReplaceAllString(title, "")
		if stripped == title {
			break
		}
		title = stripped
	}
	title = collapseSpaces(title)

	if containsAny(strings.ToLower(title), badAnywhereKeywords) {
		return nil
	}
	if n := utf8.RuneCountInString(title); n < minTitleLength || n > maxTitleLength {
		return nil
	}
	return &title
}

// NormalizeTextBlock collapses whitespace and trims bullets and dashes from
// both ends. It returns nil for blank input.
func NormalizeTextBlock(raw string) *string {
	t := collapseSpaces(replaceSpecialSpaces(raw))
	t = strings.Trim(t, textBlockTrimCutset)
	if t == "" {
		return nil
	}
	return &t
}

func cleanSpecKey(raw string) string {
	s := NormalizeTextBlock(raw)
	if s == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(*s), ":"))
}

func cleanSpecValue(raw string) string {
	s := NormalizeTextBlock(raw)
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if placeholderSpecValue[v] {
		return ""
	}
	return v
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func replaceSpecialSpaces(s string) string {
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2009", " ").Replace(s)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func stringPtr(s string) *string {
	return &s
}
