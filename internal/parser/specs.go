package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
	"golang.org/x/net/html"
)

var specSectionSelectors = compileSelectors(
	`[data-zone-name="characteristics"]`,
	`[data-zone-name="specification"]`,
	`[data-zone-name="specificationContent"]`,
	`[data-auto="product-specs"]`,
	`[data-auto="ProductSpecs"]`,
	`[data-auto="specification"]`,
	`[data-widget="webCharacteristics"]`,
	`[data-widget="vitrinaCharacteristics"]`,
	`[data-apiary-widget-name*="Characteristics"]`,
	`[data-apiary-widget-name*="characteristics"]`,
	`[data-apiary-widget-name*="Specifications"]`,
	`[data-apiary-widget-name*="Specs"]`,
	`[data-baobab-name="characteristics"]`,
)

var specKeySelectors = compileSelectors(
	`[data-auto="name"]`, `[data-auto="spec-name"]`, `[data-auto="char-name"]`,
	`[class*="name"]`, `[class*="term"]`, `[class*="Term"]`,
	`dt`, `th`,
)

var specValueSelectors = compileSelectors(
	`[data-auto="value"]`, `[data-auto="spec-value"]`, `[data-auto="char-value"]`,
	`[class*="value"]`, `[class*="def"]`, `[class*="Def"]`,
	`dd`, `td`,
)

const (
	headingTags          = "h2, h3, h4, h5, h6, div, span"
	specsHeaderContainer = "section, article, div, main"
)

// Key fragments that show a table already carries the general block.
var generalKeyMarkers = []string{"общ", "general"}

type specPair struct {
	key   string
	value string
}

// FindSpecSections returns the candidate specification regions: known
// widgets plus the containers of "Characteristics" and "General
// characteristics" headings. Each region appears once.
func FindSpecSections(doc *goquery.Document) *goquery.Selection {
	nodes := specSectionSelectors.all(doc.Selection)
	seen := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		seen[n] = true
	}

	addHeaderContainers := func(pattern *regexp.Regexp, container string) {
		doc.Find(headingTags).Each(func(_ int, s *goquery.Selection) {
			text, ok := soleString(s.Get(0))
			if !ok || !pattern.MatchString(text) {
				return
			}
			if parent := nearestAncestor(s, container); parent != nil {
				if n := parent.Get(0); !seen[n] {
					seen[n] = true
					nodes = append(nodes, n)
				}
			}
		})
	}
	addHeaderContainers(specsHeaderPattern, specsHeaderContainer)
	addHeaderContainers(generalSpecsPattern, blockContainers)

	return doc.FindNodes(nodes...)
}

// ExtractSectionSpecs runs the definition-list, table and row extractors over
// one region and merges their pairs.
func ExtractSectionSpecs(section *goquery.Selection) models.SpecTable {
	specs := make(models.SpecTable)
	specsFromDL(section, specs)
	specsFromTable(section, specs)
	specsFromRows(section, specs)
	return specs
}

func (p *MarketParser) CountSpecPairs(doc *goquery.Document) int {
	total := 0
	FindSpecSections(doc).Each(func(_ int, section *goquery.Selection) {
		total += len(ExtractSectionSpecs(section))
	})
	return total
}

func specsFromDL(node *goquery.Selection, specs models.SpecTable) {
	selfAndFind(node, "dl").Each(func(_ int, dl *goquery.Selection) {
		mergePairs(specs, pairsFromDL(dl))
	})
}

func specsFromTable(node *goquery.Selection, specs models.SpecTable) {
	selfAndFind(node, "table").Each(func(_ int, table *goquery.Selection) {
		mergePairs(specs, pairsFromTable(table))
	})
}

// pairsFromDL pairs dt and dd elements by position.
func pairsFromDL(dl *goquery.Selection) []specPair {
	dts, dds := dl.Find("dt"), dl.Find("dd")
	n := min(dts.Length(), dds.Length())

	var pairs []specPair
	for i := 0; i < n; i++ {
		k := cleanSpecKey(textOf(dts.Eq(i), " "))
		v := cleanSpecValue(textOf(dds.Eq(i), " "))
		if k != "" && v != "" {
			pairs = append(pairs, specPair{key: k, value: v})
		}
	}
	return pairs
}

// pairsFromTable takes the first two cells of every row with at least two.
func pairsFromTable(table *goquery.Selection) []specPair {
	var pairs []specPair
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		k := cleanSpecKey(textOf(cells.Eq(0), " "))
		v := cleanSpecValue(textOf(cells.Eq(1), " "))
		if k != "" && v != "" {
			pairs = append(pairs, specPair{key: k, value: v})
		}
	})
	return pairs
}

// specsFromRows handles generic row-like markup. Key and value elements are
// located by selector priority, falling back to the first two children.
func specsFromRows(node *goquery.Selection, specs models.SpecTable) {
	node.Find("div, li, tr").Each(func(_ int, row *goquery.Selection) {
		key, value := specKeySelectors.first(row), specValueSelectors.first(row)
		if key == nil || value == nil || nodesOverlap(key.Get(0), value.Get(0)) {
			children := row.Children()
			if children.Length() < 2 {
				return
			}
			if key == nil {
				key = children.Eq(0)
			}
			if value == nil {
				value = children.Eq(1)
			}
			// A bare <td> row matches the value selector with its key cell.
			if nodesOverlap(key.Get(0), value.Get(0)) {
				key, value = children.Eq(0), children.Eq(1)
			}
		}

		k := cleanSpecKey(textOf(key, " "))
		v := rowValue(value)
		if k != "" && v != "" {
			specs.Merge(k, v)
		}
	})
}

// rowValue comma-joins list items when the value element holds a list.
func rowValue(value *goquery.Selection) string {
	items := value.Find("li")
	if items.Length() == 0 {
		return cleanSpecValue(textOf(value, " "))
	}

	var parts []string
	items.Each(func(_ int, li *goquery.Selection) {
		if t := cleanSpecValue(textOf(li, " ")); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return cleanSpecValue(textOf(value, " "))
	}
	return strings.Join(parts, ", ")
}

func mergePairs(specs models.SpecTable, pairs []specPair) {
	for _, pair := range pairs {
		specs.Merge(pair.key, pair.value)
	}
}

// GuessSpecsAnywhere picks the single definition list or table of the whole
// document with the most pairs, provided it has at least minPairs.
func GuessSpecsAnywhere(doc *goquery.Document, minPairs int) models.SpecTable {
	var best []specPair
	consider := func(pairs []specPair) {
		if len(pairs) >= minPairs && len(pairs) > len(best) {
			best = pairs
		}
	}

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		consider(pairsFromDL(dl))
	})
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		consider(pairsFromTable(table))
	})

	specs := make(models.SpecTable)
	mergePairs(specs, best)
	return specs
}

// ExtractGeneralSpecs looks past each "General characteristics" heading: of
// the next siblingLimit sibling elements, the first that yields pairs is
// merged in.
func ExtractGeneralSpecs(doc *goquery.Document, siblingLimit int) models.SpecTable {
	var headers []*html.Node
	for _, root := range doc.Nodes {
		walkText(root, func(n *html.Node) {
			if n.Parent != nil && n.Parent.Type == html.ElementNode && generalSpecsPattern.MatchString(n.Data) {
				headers = append(headers, n.Parent)
			}
		})
	}

	specs := make(models.SpecTable)
	for _, header := range headers {
		current := doc.FindNodes(header)
		for i := 0; i < siblingLimit; i++ {
			current = current.Next()
			if current.Length() == 0 {
				break
			}
			found := ExtractSectionSpecs(current)
			if len(found) > 0 {
				specs.MergeAll(found)
				break
			}
		}
	}
	return specs
}

// ExtractSpecs assembles the full specification table: structured
// properties of the product page, section pairs of specDoc, the whole-page
// fallback when fewer than FallbackMinPairs were found, and the general block
// when no key mentions it yet. Keys and values are truncated at the end.
func (p *MarketParser) ExtractSpecs(structured *StructuredData, specDoc *goquery.Document) models.SpecTable {
	specs := make(models.SpecTable)
	if structured != nil {
		specs.MergeAll(structured.Specs())
	}

	FindSpecSections(specDoc).Each(func(_ int, section *goquery.Selection) {
		specs.MergeAll(ExtractSectionSpecs(section))
	})

	if len(specs) < p.opts.FallbackMinPairs {
		specs.MergeAll(GuessSpecsAnywhere(specDoc, p.opts.FallbackMinPairs))
	}

	if !specs.HasKeyContaining(generalKeyMarkers...) {
		specs.MergeAll(ExtractGeneralSpecs(specDoc, p.opts.GeneralSiblingLimit))
	}

	// Keys that collide once truncated keep the value of the first key in
	// sorted order.
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cleaned := make(models.SpecTable, len(specs))
	for _, key := range keys {
		k := strings.TrimSpace(truncateRunes(key, p.opts.SpecKeyLimit))
		v := strings.TrimSpace(truncateRunes(specs[key], p.opts.SpecValueLimit))
		if k == "" || v == "" {
			continue
		}
		if _, ok := cleaned[k]; ok {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}
