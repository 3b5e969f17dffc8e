package models

import (
	"strings"
	"time"
)

const DefaultCurrency = "RUB"

// NameSource identifies where the winning title came from.
type NameSource string

const (
	SourceH1      NameSource = "h1"
	SourceJSONLD  NameSource = "jsonld"
	SourceOG      NameSource = "og"
	SourceTwitter NameSource = "twitter"
	SourceTitle   NameSource = "title"
)

type ProductRecord struct {
	URL        string      `json:"url"`
	Name       *string     `json:"name"`
	NameSource *NameSource `json:"name_source"`
	Price      *float64    `json:"price"`
	Currency   string      `json:"currency"`
	About      About       `json:"about"`
	Specs      SpecTable   `json:"specs"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Error      string      `json:"error,omitempty"`
}

type About struct {
	Text    *string  `json:"text"`
	Bullets []string `json:"bullets"`
}

// TitleCandidate is a tentative title from one source, prior to ranking.
type TitleCandidate struct {
	Text   string
	Source NameSource
}

func NewProductRecord(url string, fetchedAt time.Time) *ProductRecord {
	return &ProductRecord{
		URL:       url,
		Currency:  DefaultCurrency,
		About:     About{Bullets: make([]string, 0)},
		Specs:     make(SpecTable),
		FetchedAt: fetchedAt.UTC(),
	}
}

// NewErrorRecord builds the flagged placeholder emitted when assembly fails.
// All extraction fields stay empty.
func NewErrorRecord(url string, err error, fetchedAt time.Time) *ProductRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ProductRecord{
		URL:       url,
		About:     About{Bullets: make([]string, 0)},
		Specs:     make(SpecTable),
		FetchedAt: fetchedAt.UTC(),
		Error:     msg,
	}
}

func (p *ProductRecord) Failed() bool {
	return p.Error != ""
}

// HasAbout reports whether any about content was extracted.
func (p *ProductRecord) HasAbout() bool {
	return p.About.Text != nil || len(p.About.Bullets) > 0
}

// SpecTable maps specification attribute names to values.
type SpecTable map[string]string

// Merge adds k=v. When k already exists, only the comma-separated parts of v
// that are not yet present are appended.
func (s SpecTable) Merge(k, v string) {
	if k == "" || v == "" {
		return
	}
	existing, ok := s[k]
	if !ok {
		s[k] = v
		return
	}

	have := make(map[string]bool)
	for _, part := range splitParts(existing) {
		have[part] = true
	}

	merged := existing
	for _, part := range splitParts(v) {
		if have[part] {
			continue
		}
		have[part] = true
		merged += ", " + part
	}
	s[k] = merged
}

func (s SpecTable) MergeAll(other SpecTable) {
	for k, v := range other {
		s.Merge(k, v)
	}
}

func (s SpecTable) HasKeyContaining(substrings ...string) bool {
	for k := range s {
		low := strings.ToLower(k)
		for _, sub := range substrings {
			if strings.Contains(low, sub) {
				return true
			}
		}
	}
	return false
}

func splitParts(v string) []string {
	raw := strings.Split(v, ", ")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
