package parser

import (
	"encoding/json"
	"testing"

	"github.com/maltedev/market-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStructuredSkipsMalformedBlocks(t *testing.T) {
	doc := mustParse(t, `<html><head>
		<script type="application/ld+json">{ "@type": "Product", broken</script>
		<script type="application/ld+json">{"@type":"Organization","name":"BestShop"}</script>
		<script type="application/ld+json">
			{"@type":"Product","name":"Phone X — buy at BestShop","offers":{"price":"19999.00","priceCurrency":"RUB"}}
		</script>
	</head><body></body></html>`)

	data := newTestParser().ReadStructured(doc)
	assert.Equal(t, 1, data.Skipped)
	require.Len(t, data.Products, 1)

	name := data.Name()
	require.NotNil(t, name)
	assert.Equal(t, "Phone X", *name)

	price, currency := data.Price()
	require.NotNil(t, price)
	assert.Equal(t, 19999.0, *price)
	assert.Equal(t, "RUB", currency)
}

func TestParseJSONLDReportsMalformed(t *testing.T) {
	_, err := parseJSONLD([]byte(`{"@type":`))
	assert.ErrorIs(t, err, ErrMalformedJSONLD)

	nodes, err := parseJSONLD([]byte("  "))
	assert.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestReadStructuredFlattensArraysAndGraph(t *testing.T) {
	doc := mustParse(t, `<script type="application/ld+json">
		{"@context":"https://schema.org","@graph":[
			{"@type":"BreadcrumbList"},
			{"@type":["Product","Thing"],"name":"Ноутбук ASUS Zenbook 14"}
		]}
	</script>
	<script type="application/ld+json">[{"@type":"Product","name":"Second product"}]</script>`)

	data := newTestParser().ReadStructured(doc)
	require.Len(t, data.Products, 2)

	name := data.Name()
	require.NotNil(t, name)
	assert.Equal(t, "Ноутбук ASUS Zenbook 14", *name)
}

func TestStructuredPrice(t *testing.T) {
	tests := []struct {
		name     string
		offers   string
		price    *float64
		currency string
	}{
		{"single offer", `{"price":"1 990","priceCurrency":"RUB"}`, floatPtr(1990), "RUB"},
		{"numeric price", `{"price":2490.5}`, floatPtr(2490.5), ""},
		{"offer list skips empty", `[{"price":""},{"lowPrice":1500,"priceCurrency":"USD"}]`, floatPtr(1500), "USD"},
		{"high price fallback", `{"price":0,"highPrice":"3000"}`, floatPtr(3000), ""},
		{"no price", `{"priceCurrency":"RUB"}`, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, `<script type="application/ld+json">{"@type":"Product","offers":`+tt.offers+`}</script>`)
			price, currency := newTestParser().ReadStructured(doc).Price()
			if tt.price == nil {
				assert.Nil(t, price)
				return
			}
			require.NotNil(t, price)
			assert.Equal(t, *tt.price, *price)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestStructuredSpecs(t *testing.T) {
	doc := mustParse(t, `<script type="application/ld+json">{
		"@type": "Product",
		"description": "  Лёгкий   ноутбук для работы  ",
		"additionalProperty": [
			{"name": "Цвет", "value": "черный"},
			{"name": "Порты", "value": ["USB-C", "HDMI"]},
			{"name": "Вес", "value": {"value": "1.2 кг"}},
			{"name": "Материал", "value": {"name": "алюминий", "value": "ignored"}},
			{"name": "Ядра", "value": 8},
			{"name": "Пусто", "value": null},
			{"name": "Прочерк", "value": "—"},
			{"value": "без имени"}
		],
		"model": {"@type": "ProductModel", "name": "UX3405", "color": "black", "year": 2023, "zero": 0}
	}</script>`)

	data := newTestParser().ReadStructured(doc)
	assert.Equal(t, models.SpecTable{
		"Цвет":     "черный",
		"Порты":    "USB-C, HDMI",
		"Вес":      "1.2 кг",
		"Материал": "алюминий",
		"Ядра":     "8",
		"color":    "black",
		"year":     "2023",
	}, data.Specs())

	desc := data.Description()
	require.NotNil(t, desc)
	assert.Equal(t, "Лёгкий ноутбук для работы", *desc)
}

func TestStructuredSpecsAdditionalProperties(t *testing.T) {
	doc := mustParse(t, `<script type="application/ld+json">
		{"@type":"Product","additionalProperties":{"name":"Диагональ","value":"6.1\""}}
	</script>`)

	assert.Equal(t, models.SpecTable{"Диагональ": `6.1"`}, newTestParser().ReadStructured(doc).Specs())
}

func TestSpecValueVariants(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		kind     ValueKind
		expected string
	}{
		{"null", `null`, ValueNull, ""},
		{"string", `"8 ГБ"`, ValueScalar, "8 ГБ"},
		{"number", `12.5`, ValueScalar, "12.5"},
		{"list", `["a", 1, null, "b"]`, ValueList, "a, 1, b"},
		{"nested name", `{"name": "Intel"}`, ValueNested, "Intel"},
		{"nested value", `{"name": "", "value": "AMD"}`, ValueNested, "AMD"},
		{"nested list", `{"value": ["x", "y"]}`, ValueNested, "x, y"},
		{"empty object", `{}`, ValueNested, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v SpecValue
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &v))
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.expected, v.String())
		})
	}
}
