// Package pipeline orchestrates harvest runs: it fans out to the registered
// reference sources, enriches each fetched record concurrently, and hands the
// normalized batch to the store writer. Source and enrichment failures
// degrade individual records; only a store failure fails the run.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/observability"
	"github.com/medscribe/reference-harvester/internal/scoring"
	"github.com/medscribe/reference-harvester/internal/sources"
)

// DefaultEnrichmentWorkers bounds concurrent enrichment calls per harvest.
const DefaultEnrichmentWorkers = 8

// Classifier derives summary and keyword signals from reference text.
type Classifier interface {
	ExtractSummary(ctx context.Context, text string) string
	ExtractKeywords(ctx context.Context, text string) []string
}

// ReferenceWriter persists a batch of normalized references.
type ReferenceWriter interface {
	WriteBatch(ctx context.Context, refs []domain.NormalizedReference) error
}

// Config holds pipeline tuning parameters.
type Config struct {
	// Retention is how long stored references stay visible to search.
	Retention time.Duration

	// EnrichmentWorkers bounds concurrent enrichment calls.
	EnrichmentWorkers int
}

func (c *Config) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = domain.DefaultRetention
	}
	if c.EnrichmentWorkers <= 0 {
		c.EnrichmentWorkers = DefaultEnrichmentWorkers
	}
}

// Pipeline runs reference harvests end to end.
type Pipeline struct {
	registry   *sources.Registry
	classifier Classifier
	scorer     *scoring.Scorer
	writer     ReferenceWriter
	metrics    *observability.Metrics
	config     Config
	logger     zerolog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// New creates a harvest pipeline.
func New(
	registry *sources.Registry,
	classifier Classifier,
	scorer *scoring.Scorer,
	writer ReferenceWriter,
	metrics *observability.Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		registry:   registry,
		classifier: classifier,
		scorer:     scorer,
		writer:     writer,
		metrics:    metrics,
		config:     cfg,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// Harvest fetches references for the given queries from every enabled
// source, enriches them, and persists the batch. Returns the number of
// references stored. Source failures yield empty contributions and
// enrichment failures degrade individual records; the run fails only when
// the store writer fails.
func (p *Pipeline) Harvest(ctx context.Context, literatureQuery, trialsQuery string, maxPerSource int) (int, error) {
	harvestID := uuid.NewString()
	logger := observability.WithHarvestContext(p.logger, harvestID, literatureQuery)
	start := p.now()

	p.metrics.RecordHarvestStarted()
	logger.Info().
		Str("trials_query", trialsQuery).
		Int("max_per_source", maxPerSource).
		Msg("harvest started")

	raw := p.fetchAll(ctx, logger, literatureQuery, trialsQuery, maxPerSource)
	if len(raw) == 0 {
		p.metrics.RecordHarvestCompleted(p.now().Sub(start).Seconds())
		logger.Info().Msg("harvest completed with no references")
		return 0, nil
	}

	refs := p.enrichAll(ctx, raw)

	if err := p.writer.WriteBatch(ctx, refs); err != nil {
		p.metrics.RecordHarvestFailed(p.now().Sub(start).Seconds())
		logger.Error().Err(err).Int("references", len(refs)).Msg("harvest failed: store write error")
		return 0, fmt.Errorf("failed to store references: %w", err)
	}

	p.metrics.RecordReferencesStored(len(refs))
	p.metrics.RecordHarvestCompleted(p.now().Sub(start).Seconds())
	logger.Info().
		Int("references", len(refs)).
		Dur("duration", p.now().Sub(start)).
		Msg("harvest completed")

	return len(refs), nil
}

// fetchAll fans out to every enabled source and concatenates the results.
// A failing source contributes nothing; it never aborts the run.
func (p *Pipeline) fetchAll(ctx context.Context, logger zerolog.Logger, literatureQuery, trialsQuery string, maxPerSource int) []domain.RawReference {
	params := map[domain.SourceType]sources.FetchParams{
		domain.SourceTypePubMed:         {Query: literatureQuery, MaxResults: maxPerSource},
		domain.SourceTypeClinicalTrials: {Query: trialsQuery, MaxResults: maxPerSource},
	}

	var raw []domain.RawReference
	for _, result := range p.registry.FetchAll(ctx, params) {
		if result.Error != nil {
			logger.Warn().
				Err(result.Error).
				Str("source", string(result.Source)).
				Msg("source fetch failed, continuing without it")
			continue
		}
		p.metrics.RecordReferencesFetched(string(result.Source), len(result.Result.References))
		logger.Info().
			Str("source", string(result.Source)).
			Int("count", len(result.Result.References)).
			Dur("fetch_duration", result.Result.FetchDuration).
			Msg("source fetch completed")
		raw = append(raw, result.Result.References...)
	}
	return raw
}

// enrichAll enriches every raw reference with a bounded worker pool,
// preserving input order in the output.
func (p *Pipeline) enrichAll(ctx context.Context, raw []domain.RawReference) []domain.NormalizedReference {
	refs := make([]domain.NormalizedReference, len(raw))

	sem := make(chan struct{}, p.config.EnrichmentWorkers)
	var wg sync.WaitGroup
	for i := range raw {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			refs[i] = p.enrichOne(ctx, raw[i])
		}(i)
	}
	wg.Wait()

	return refs
}

// enrichOne derives summary, keywords, and confidence for one raw reference
// and normalizes it. Enrichment failures degrade the record to its defaults
// rather than dropping it.
func (p *Pipeline) enrichOne(ctx context.Context, raw domain.RawReference) domain.NormalizedReference {
	now := p.now()
	start := now

	body := raw.BodyText()

	summary := domain.DefaultSummary
	if body != "" {
		summary = p.classifier.ExtractSummary(ctx, body)
		if summary == domain.SummaryUnavailable {
			p.metrics.RecordReferenceDegraded("summary")
		}
	}

	keywordText := raw.Title
	if body != "" {
		keywordText = raw.Title + " " + body
	}
	keywords := p.classifier.ExtractKeywords(ctx, keywordText)
	if len(keywords) == 0 {
		p.metrics.RecordReferenceDegraded("keywords")
	}

	outcome := "success"
	if summary == domain.SummaryUnavailable || len(keywords) == 0 {
		outcome = "degraded"
	}
	p.metrics.RecordEnrichment(outcome, p.now().Sub(start).Seconds())

	enr := domain.Enrichment{
		Summary:    summary,
		Keywords:   keywords,
		Confidence: p.scorer.Score(raw, now),
	}
	return domain.NewNormalizedReference(raw, enr, p.config.Retention, now)
}
