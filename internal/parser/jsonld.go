package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/market-scraper/internal/models"
)

var ErrMalformedJSONLD = errors.New("malformed JSON-LD block")

const productType = "Product"

// ldNode is a single JSON-LD object with its fields left undecoded.
type ldNode map[string]json.RawMessage

// StructuredData holds every Product node found in the ld+json blocks of a
// document, in document order.
type StructuredData struct {
	Products []ldNode
	Skipped  int
}

// parseJSONLD decodes one ld+json block. Top-level arrays and @graph
// containers are flattened into their member objects.
func parseJSONLD(raw []byte) ([]ldNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var value json.RawMessage
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSONLD, err)
	}

	var nodes []ldNode
	flattenNodes(value, &nodes)
	return nodes, nil
}

func flattenNodes(raw json.RawMessage, out *[]ldNode) {
	switch leadingByte(raw) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			flattenNodes(item, out)
		}
	case '{':
		var n ldNode
		if err := json.Unmarshal(raw, &n); err != nil {
			return
		}
		*out = append(*out, n)
		if graph, ok := n["@graph"]; ok {
			flattenNodes(graph, out)
		}
	}
}

// ReadStructured collects the Product nodes of every ld+json block. Blocks
// that fail to parse are skipped and counted; the scan always continues.
func (p *MarketParser) ReadStructured(doc *goquery.Document) *StructuredData {
	data := &StructuredData{}

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		nodes, err := parseJSONLD([]byte(s.Text()))
		if err != nil {
			data.Skipped++
			p.logger.Debug("skipping ld+json block", "index", i, "error", err)
			return
		}
		for _, n := range nodes {
			if n.isProduct() {
				data.Products = append(data.Products, n)
			}
		}
	})

	return data
}

// Name returns the first product name that survives title normalization.
func (d *StructuredData) Name() *string {
	for _, prod := range d.Products {
		if name, ok := prod.str("name"); ok {
			if t := NormalizeTitle(name); t != nil {
				return t
			}
		}
	}
	return nil
}

// Price returns the first parseable offer price and its currency. Offers may
// be a single object or a list; price falls back to lowPrice and highPrice.
func (d *StructuredData) Price() (*float64, string) {
	for _, prod := range d.Products {
		for _, offer := range prod.objects("offers") {
			raw, ok := offer.firstTruthy("price", "lowPrice", "highPrice")
			if !ok {
				continue
			}
			if price := NormalizePrice(raw); price != nil {
				currency, _ := offer.str("priceCurrency")
				return price, strings.TrimSpace(currency)
			}
		}
	}
	return nil, ""
}

// Description returns the first product description as a text block.
func (d *StructuredData) Description() *string {
	for _, prod := range d.Products {
		if desc, ok := prod.str("description"); ok {
			if t := NormalizeTextBlock(desc); t != nil {
				return t
			}
		}
	}
	return nil
}

// Specs reads additionalProperty entries and the scalar fields of a model
// object from every product node.
func (d *StructuredData) Specs() models.SpecTable {
	specs := make(models.SpecTable)

	for _, prod := range d.Products {
		props := prod.objects("additionalProperty")
		if len(props) == 0 {
			props = prod.objects("additionalProperties")
		}
		for _, prop := range props {
			name, _ := prop.str("name")
			key := cleanSpecKey(name)

			var value SpecValue
			if raw, ok := prop["value"]; ok {
				if err := json.Unmarshal(raw, &value); err != nil {
					continue
				}
			}
			if val := cleanSpecValue(value.String()); key != "" && val != "" {
				specs.Merge(key, val)
			}
		}

		if model := prod.objects("model"); len(model) == 1 && leadingByte(prod["model"]) == '{' {
			for field, raw := range model[0] {
				switch field {
				case "@type", "name", "description":
					continue
				}
				text, ok := truthyScalar(raw)
				if !ok {
					continue
				}
				if key, val := cleanSpecKey(field), cleanSpecValue(text); key != "" && val != "" {
					specs.Merge(key, val)
				}
			}
		}
	}

	return specs
}

func (n ldNode) isProduct() bool {
	raw, ok := n["@type"]
	if !ok {
		return false
	}
	switch leadingByte(raw) {
	case '"':
		var t string
		return json.Unmarshal(raw, &t) == nil && t == productType
	case '[':
		var types []json.RawMessage
		if json.Unmarshal(raw, &types) != nil {
			return false
		}
		for _, item := range types {
			var t string
			if json.Unmarshal(item, &t) == nil && t == productType {
				return true
			}
		}
	}
	return false
}

// str returns the field when it is a JSON string.
func (n ldNode) str(key string) (string, bool) {
	raw, ok := n[key]
	if !ok || leadingByte(raw) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// objects returns the field as a list of objects whether it holds a single
// object or an array of them. Non-object members are dropped.
func (n ldNode) objects(key string) []ldNode {
	raw, ok := n[key]
	if !ok {
		return nil
	}
	switch leadingByte(raw) {
	case '{':
		var obj ldNode
		if json.Unmarshal(raw, &obj) == nil {
			return []ldNode{obj}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) != nil {
			return nil
		}
		var out []ldNode
		for _, item := range items {
			var obj ldNode
			if leadingByte(item) == '{' && json.Unmarshal(item, &obj) == nil {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

func (n ldNode) firstTruthy(keys ...string) (string, bool) {
	for _, k := range keys {
		if raw, ok := n[k]; ok {
			if s, ok := truthyScalar(raw); ok {
				return s, true
			}
		}
	}
	return "", false
}

// truthyScalar renders a non-empty string or non-zero number as text.
func truthyScalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	switch b := leadingByte(raw); {
	case b == '"':
		var s string
		if json.Unmarshal(raw, &s) != nil || s == "" {
			return "", false
		}
		return s, true
	case b == '-' || (b >= '0' && b <= '9'):
		var num json.Number
		if json.Unmarshal(raw, &num) != nil {
			return "", false
		}
		if f, err := num.Float64(); err != nil || f == 0 {
			return "", false
		}
		return num.String(), true
	case b == 't':
		return "true", true
	}
	return "", false
}

func leadingByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

// ValueKind tags the variants of SpecValue.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueScalar
	ValueList
	ValueNested
)

// SpecValue is the value of a JSON-LD PropertyValue: a scalar, a list of
// values, or a nested object carrying its own name or value.
type SpecValue struct {
	Kind   ValueKind
	Scalar string
	Items  []SpecValue
	Nested *SpecValue
}

func (v *SpecValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = SpecValue{}

	switch b := leadingByte(data); {
	case b == 0 || bytes.Equal(data, []byte("null")):
		v.Kind = ValueNull
	case b == '[':
		var items []SpecValue
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		v.Kind = ValueList
		v.Items = items
	case b == '{':
		var obj struct {
			Name  *SpecValue `json:"name"`
			Value *SpecValue `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		v.Kind = ValueNested
		if obj.Name != nil && obj.Name.String() != "" {
			v.Nested = obj.Name
		} else {
			v.Nested = obj.Value
		}
	case b == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Kind = ValueScalar
		v.Scalar = s
	default:
		v.Kind = ValueScalar
		v.Scalar = string(data)
	}
	return nil
}

// String flattens the value: lists are comma-joined, nested objects resolve
// to their inner value.
func (v SpecValue) String() string {
	switch v.Kind {
	case ValueScalar:
		return v.Scalar
	case ValueList:
		parts := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s := item.String(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case ValueNested:
		if v.Nested != nil {
			return v.Nested.String()
		}
	}
	return ""
}
