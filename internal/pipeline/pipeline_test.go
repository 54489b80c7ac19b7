package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/observability"
	"github.com/medscribe/reference-harvester/internal/scoring"
	"github.com/medscribe/reference-harvester/internal/sources"
)

// Shared across tests; promauto registers against the default registry once.
var testMetrics = observability.NewMetrics("refharvest_pipeline_test")

type stubSource struct {
	sourceType domain.SourceType
	refs       []domain.RawReference
	err        error
	enabled    bool

	mu            sync.Mutex
	receivedQuery string
	receivedMax   int
}

var _ sources.ReferenceSource = (*stubSource)(nil)

func (s *stubSource) Fetch(_ context.Context, params sources.FetchParams) (*sources.FetchResult, error) {
	s.mu.Lock()
	s.receivedQuery = params.Query
	s.receivedMax = params.MaxResults
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &sources.FetchResult{References: s.refs, Source: s.sourceType}, nil
}

func (s *stubSource) SourceType() domain.SourceType { return s.sourceType }
func (s *stubSource) Name() string                  { return string(s.sourceType) }
func (s *stubSource) IsEnabled() bool               { return s.enabled }

type stubClassifier struct {
	summary  string
	keywords []string
}

func (c *stubClassifier) ExtractSummary(_ context.Context, _ string) string {
	return c.summary
}

func (c *stubClassifier) ExtractKeywords(_ context.Context, _ string) []string {
	return c.keywords
}

type captureWriter struct {
	mu      sync.Mutex
	batches [][]domain.NormalizedReference
	err     error
}

func (w *captureWriter) WriteBatch(_ context.Context, refs []domain.NormalizedReference) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, refs)
	return nil
}

func (w *captureWriter) written() []domain.NormalizedReference {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []domain.NormalizedReference
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

func strPtr(s string) *string { return &s }

func newTestPipeline(registry *sources.Registry, classifier Classifier, writer ReferenceWriter) *Pipeline {
	p := New(registry, classifier, scoring.NewScorer(), writer, testMetrics, Config{}, zerolog.Nop())
	return p
}

func TestPipeline_Harvest(t *testing.T) {
	published := time.Now().AddDate(0, -1, 0)
	registry := sources.NewRegistry()
	registry.Register(&stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		refs: []domain.RawReference{
			{
				SourceID:     "111",
				Title:        "Peanut Allergy Immunotherapy",
				AbstractText: strPtr("Oral immunotherapy for peanut allergy."),
				URL:          "https://pubmed.ncbi.nlm.nih.gov/111/",
				Published:    &published,
				Source:       domain.SourceTypePubMed,
			},
		},
	})
	registry.Register(&stubSource{
		sourceType: domain.SourceTypeClinicalTrials,
		enabled:    true,
		refs: []domain.RawReference{
			{
				SourceID: "NCT01234567",
				Title:    "Sublingual Immunotherapy Trial",
				URL:      "https://clinicaltrials.gov/study/NCT01234567",
				Source:   domain.SourceTypeClinicalTrials,
			},
		},
	})

	writer := &captureWriter{}
	classifier := &stubClassifier{summary: "peanut allergy immunotherapy", keywords: []string{"Peanut Allergy"}}
	p := newTestPipeline(registry, classifier, writer)

	count, err := p.Harvest(context.Background(), "peanut allergy", "immunotherapy", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	refs := writer.written()
	require.Len(t, refs, 2)

	byID := make(map[string]domain.NormalizedReference, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}

	article, ok := byID["111"]
	require.True(t, ok)
	assert.Equal(t, "peanut allergy immunotherapy", article.Summary)
	assert.Equal(t, []string{"peanut allergy"}, article.Keywords)
	assert.Equal(t, "Relevant to peanut allergy", article.RelevanceTag)
	assert.InDelta(t, 1.0, article.Confidence, 1e-9, "recent reference from a trusted registry")
	assert.True(t, article.ExpiresAt.After(time.Now()))

	// The trial record has no body text, so the summary defaults.
	trial, ok := byID["NCT01234567"]
	require.True(t, ok)
	assert.Equal(t, domain.DefaultSummary, trial.Summary)
}

func TestPipeline_Harvest_QueriesRoutedPerSource(t *testing.T) {
	pubmed := &stubSource{sourceType: domain.SourceTypePubMed, enabled: true}
	trials := &stubSource{sourceType: domain.SourceTypeClinicalTrials, enabled: true}
	registry := sources.NewRegistry()
	registry.Register(pubmed)
	registry.Register(trials)

	p := newTestPipeline(registry, &stubClassifier{}, &captureWriter{})

	_, err := p.Harvest(context.Background(), "literature query", "trials query", 7)
	require.NoError(t, err)

	assert.Equal(t, "literature query", pubmed.receivedQuery)
	assert.Equal(t, "trials query", trials.receivedQuery)
	assert.Equal(t, 7, pubmed.receivedMax)
	assert.Equal(t, 7, trials.receivedMax)
}

func TestPipeline_Harvest_SourceFailureDoesNotAbort(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		err:        errors.New("upstream down"),
	})
	registry.Register(&stubSource{
		sourceType: domain.SourceTypeClinicalTrials,
		enabled:    true,
		refs: []domain.RawReference{
			{SourceID: "NCT1", Title: "Trial", Source: domain.SourceTypeClinicalTrials},
		},
	})

	writer := &captureWriter{}
	p := newTestPipeline(registry, &stubClassifier{}, writer)

	count, err := p.Harvest(context.Background(), "q1", "q2", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, writer.written(), 1)
}

func TestPipeline_Harvest_EmptyResultSkipsWrite(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&stubSource{sourceType: domain.SourceTypePubMed, enabled: true})

	writer := &captureWriter{}
	p := newTestPipeline(registry, &stubClassifier{}, writer)

	count, err := p.Harvest(context.Background(), "q1", "q2", 10)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.batches)
}

func TestPipeline_Harvest_StoreFailureFailsRun(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		refs: []domain.RawReference{
			{SourceID: "111", Title: "Paper", Source: domain.SourceTypePubMed},
		},
	})

	writer := &captureWriter{err: errors.New("connection refused")}
	p := newTestPipeline(registry, &stubClassifier{}, writer)

	count, err := p.Harvest(context.Background(), "q1", "q2", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store references")
	assert.Zero(t, count)
}

func TestPipeline_Harvest_DegradedEnrichment(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		refs: []domain.RawReference{
			{
				SourceID:     "111",
				Title:        "Paper",
				AbstractText: strPtr("abstract text"),
				Source:       domain.SourceTypePubMed,
			},
		},
	})

	writer := &captureWriter{}
	classifier := &stubClassifier{summary: domain.SummaryUnavailable, keywords: nil}
	p := newTestPipeline(registry, classifier, writer)

	count, err := p.Harvest(context.Background(), "q", "q", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	refs := writer.written()
	require.Len(t, refs, 1)
	assert.Equal(t, domain.SummaryUnavailable, refs[0].Summary)
	assert.Empty(t, refs[0].Keywords)
	assert.Equal(t, "Relevant to "+domain.DefaultKeyword, refs[0].RelevanceTag)
}

func TestPipeline_Harvest_GeneratesIDWhenSourceOmitsOne(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		refs: []domain.RawReference{
			{Title: "Untitled record", Source: domain.SourceTypePubMed},
		},
	})

	writer := &captureWriter{}
	p := newTestPipeline(registry, &stubClassifier{}, writer)

	_, err := p.Harvest(context.Background(), "q", "q", 10)
	require.NoError(t, err)

	refs := writer.written()
	require.Len(t, refs, 1)
	assert.NotEmpty(t, refs[0].ID)
}

func TestPipeline_Harvest_PreservesOrderAcrossWorkers(t *testing.T) {
	var raws []domain.RawReference
	for i := 0; i < 40; i++ {
		raws = append(raws, domain.RawReference{
			SourceID: "id-" + strings.Repeat("x", i%5) + string(rune('a'+i%26)),
			Title:    "Paper",
			Source:   domain.SourceTypePubMed,
		})
	}

	p := newTestPipeline(sources.NewRegistry(), &stubClassifier{}, &captureWriter{})

	refs := p.enrichAll(context.Background(), raws)
	require.Len(t, refs, len(raws))
	for i, r := range refs {
		assert.Equal(t, raws[i].SourceID, r.ID)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	assert.Equal(t, domain.DefaultRetention, cfg.Retention)
	assert.Equal(t, DefaultEnrichmentWorkers, cfg.EnrichmentWorkers)

	cfg = Config{Retention: time.Hour, EnrichmentWorkers: 2}
	cfg.applyDefaults()
	assert.Equal(t, time.Hour, cfg.Retention)
	assert.Equal(t, 2, cfg.EnrichmentWorkers)
}
