// Package domain provides domain models and business logic for the Reference Harvester Service.
package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType represents the external registry that provided a reference.
type SourceType string

const (
	SourceTypePubMed         SourceType = "pubmed"
	SourceTypeClinicalTrials SourceType = "clinicaltrials"
)

// Default field values applied during normalization.
const (
	// DefaultSummary is stored when no abstract or full text was available
	// for summary extraction.
	DefaultSummary = "N/A"

	// SummaryUnavailable is stored when extraction was attempted but failed
	// or yielded no entities.
	SummaryUnavailable = "Summary not available"

	// DefaultKeyword seeds the relevance tag when extraction produced no keywords.
	DefaultKeyword = "allergy"

	// DefaultRetention is how long a harvested reference stays visible to search.
	DefaultRetention = 24 * time.Hour
)

// RawReference is a source-specific record prior to normalization.
// Adapters create one per item returned from an external query; the
// aggregation pipeline consumes it exactly once.
type RawReference struct {
	// SourceID is the provider identifier (PMID, NCT number). May be empty.
	SourceID string

	// Title is the record title as reported by the source.
	Title string

	// AbstractText is the abstract, when the source provides one.
	AbstractText *string

	// FullText is a linked full-text document, resolved best-effort.
	FullText *string

	// URL points at the record on the provider's site.
	URL string

	// Published is the publication or study start date, when known.
	Published *time.Time

	// Source identifies the adapter that produced this record.
	Source SourceType
}

// BodyText returns the richest text available for entity extraction:
// full text if resolved, otherwise the abstract, otherwise empty.
func (r *RawReference) BodyText() string {
	if r.FullText != nil && *r.FullText != "" {
		return *r.FullText
	}
	if r.AbstractText != nil {
		return *r.AbstractText
	}
	return ""
}

// NormalizedReference is the canonical, source-agnostic record shape used
// for storage and search. Records are immutable after write and expire
// logically when ExpiresAt elapses; expired rows are filtered at read time.
type NormalizedReference struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	SourceURL       string     `json:"source_url"`
	Keywords        []string   `json:"keywords"`
	PublicationDate time.Time  `json:"publication_date"`
	Confidence      float64    `json:"confidence"`
	RelevanceTag    string     `json:"relevance_tag"`
	Source          SourceType `json:"source"`
	ExpiresAt       time.Time  `json:"expires_at"`
}

// Enrichment carries the derived fields computed for one raw reference.
type Enrichment struct {
	Summary    string
	Keywords   []string
	Confidence float64
}

// NewNormalizedReference builds the persisted record from a raw reference and
// its enrichment, centralizing every fallback:
//
//   - ID: the source identifier, or a generated UUID when the source omits one
//   - Summary: DefaultSummary when enrichment produced nothing
//   - Keywords: lowercased, deduplicated, sorted for deterministic output
//   - PublicationDate: now when the source omits a date
//   - Confidence: clamped to [0, 1]
//   - RelevanceTag: "Relevant to <first keyword>" with DefaultKeyword fallback
//   - ExpiresAt: now + retention
func NewNormalizedReference(raw RawReference, enr Enrichment, retention time.Duration, now time.Time) NormalizedReference {
	if retention <= 0 {
		retention = DefaultRetention
	}

	id := raw.SourceID
	if id == "" {
		id = uuid.NewString()
	}

	summary := enr.Summary
	if summary == "" {
		summary = DefaultSummary
	}

	keywords := NormalizeKeywords(enr.Keywords)

	pubDate := now
	if raw.Published != nil && !raw.Published.IsZero() {
		pubDate = *raw.Published
	}

	confidence := enr.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	tag := DefaultKeyword
	if len(keywords) > 0 {
		tag = keywords[0]
	}

	return NormalizedReference{
		ID:              id,
		Title:           raw.Title,
		Summary:         summary,
		SourceURL:       raw.URL,
		Keywords:        keywords,
		PublicationDate: pubDate,
		Confidence:      confidence,
		RelevanceTag:    "Relevant to " + tag,
		Source:          raw.Source,
		ExpiresAt:       now.Add(retention),
	}
}

// NormalizeKeywords lowercases, deduplicates, and sorts a keyword list.
// The result has set semantics with a deterministic order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Expired reports whether the reference should be hidden from reads at the
// given evaluation time.
func (r *NormalizedReference) Expired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// MatchesQuery reports whether the lowercased query term is a substring of
// any searchable text field (keywords, relevance tag, title, summary).
func (r *NormalizedReference) MatchesQuery(term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(r.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Summary), term) {
		return true
	}
	if strings.Contains(strings.ToLower(r.RelevanceTag), term) {
		return true
	}
	for _, kw := range r.Keywords {
		if strings.Contains(kw, term) {
			return true
		}
	}
	return false
}
