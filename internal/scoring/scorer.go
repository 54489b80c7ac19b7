// Package scoring computes confidence scores for harvested references from
// recency and source-trust heuristics. Scoring is pure: no I/O, no clock
// reads; callers supply the evaluation time.
package scoring

import (
	"net/url"
	"strings"
	"time"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// Score components. Recency and source trust are two-tier; relevance is a
// flat baseline every reference earns.
const (
	RecentScore    = 0.5
	StaleScore     = 0.3
	TrustedScore   = 0.3
	UntrustedScore = 0.2
	RelevanceScore = 0.2
	RecencyWindow  = 365 * 24 * time.Hour
	MaxConfidence  = 1.0
)

// defaultTrustedDomains are registries whose records earn the higher
// source-trust tier. Matching is by host suffix so subdomains qualify.
var defaultTrustedDomains = []string{
	"ncbi.nlm.nih.gov",
	"pubmed.ncbi.nlm.nih.gov",
	"clinicaltrials.gov",
}

// Scorer assigns a confidence score to a raw reference.
type Scorer struct {
	trustedDomains []string
}

// NewScorer creates a scorer with the default trusted-domain allow list.
func NewScorer() *Scorer {
	return &Scorer{trustedDomains: defaultTrustedDomains}
}

// NewScorerWithDomains creates a scorer with a custom allow list. An empty
// list means no URL earns the trusted tier.
func NewScorerWithDomains(domains []string) *Scorer {
	return &Scorer{trustedDomains: domains}
}

// Score computes the confidence for a raw reference at the given time:
// recency tier + source-trust tier + relevance baseline, clamped to 1.0.
// A missing or zero publication date scores as stale.
func (s *Scorer) Score(raw domain.RawReference, now time.Time) float64 {
	score := s.recencyScore(raw.Published, now) + s.sourceScore(raw.URL) + RelevanceScore
	if score > MaxConfidence {
		score = MaxConfidence
	}
	return score
}

func (s *Scorer) recencyScore(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return StaleScore
	}
	if now.Sub(*published) < RecencyWindow {
		return RecentScore
	}
	return StaleScore
}

func (s *Scorer) sourceScore(rawURL string) float64 {
	if s.isTrusted(rawURL) {
		return TrustedScore
	}
	return UntrustedScore
}

func (s *Scorer) isTrusted(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, trusted := range s.trustedDomains {
		if host == trusted || strings.HasSuffix(host, "."+trusted) {
			return true
		}
	}
	return false
}
