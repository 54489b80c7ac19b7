package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/observability"
)

// defaultReferenceLimit bounds how many stored references are offered to the
// model as citation candidates.
const defaultReferenceLimit = 10

// ReferenceSearcher finds stored references to offer as citation candidates.
type ReferenceSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.NormalizedReference, error)
}

// InsightStore persists generated insight records.
type InsightStore interface {
	Upsert(ctx context.Context, insight *domain.PatientInsight) error
}

// insightPayload is the per-recommendation shape requested from the model.
type insightPayload struct {
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	PubmedID     string `json:"pubmed_id"`
	Confidence   string `json:"confidence"`
	RelevanceTag string `json:"relevance_tag"`
}

// referencePayload is the per-citation shape requested from the model.
type referencePayload struct {
	PMID  string `json:"pmid"`
	Title string `json:"title"`
}

// insightResponse is the full JSON document requested from the model.
type insightResponse struct {
	Insights   []insightPayload   `json:"insights"`
	References []referencePayload `json:"references"`
}

// Generator produces and persists per-visit patient insights.
type Generator struct {
	chat       ChatClient
	references ReferenceSearcher
	store      InsightStore
	metrics    *observability.Metrics
	logger     zerolog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// NewGenerator creates an insight generator.
func NewGenerator(
	chat ChatClient,
	references ReferenceSearcher,
	store InsightStore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Generator {
	return &Generator{
		chat:       chat,
		references: references,
		store:      store,
		metrics:    metrics,
		logger:     logger.With().Str("component", "insight_generator").Logger(),
		now:        time.Now,
	}
}

// Generate produces insights for one visit transcript and persists them keyed
// by (patientID, visitID). A later call for the same visit overwrites the
// prior record. Unlike harvest enrichment, a failed LLM call or a malformed
// response fails the whole call; there is no degraded insight.
func (g *Generator) Generate(ctx context.Context, patientID, visitID, transcript string) (*domain.PatientInsight, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient ID is required")
	}
	if visitID == "" {
		return nil, domain.NewValidationError("visit_id", "visit ID is required")
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, domain.NewValidationError("transcript", "transcript is required")
	}

	logger := observability.WithVisitContext(g.logger, patientID, visitID)

	candidates, err := g.references.Search(ctx, domain.DefaultKeyword, defaultReferenceLimit)
	if err != nil {
		// Candidates are optional context; generation proceeds without them.
		logger.Warn().Err(err).Msg("reference lookup failed, generating without citation candidates")
		candidates = nil
	}

	content, err := g.chat.Complete(ctx, systemPrompt(), userPrompt(transcript, candidates))
	if err != nil {
		g.recordOutcome("llm_error")
		return nil, fmt.Errorf("insight generation failed: %w", err)
	}

	parsed := ParseObject(content)
	if !parsed.Parsed {
		g.recordOutcome("malformed_response")
		return nil, fmt.Errorf("%w: no JSON object in LLM response", domain.ErrUnparseable)
	}

	var resp insightResponse
	if err := json.Unmarshal(parsed.Value, &resp); err != nil {
		g.recordOutcome("malformed_response")
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}

	now := g.now()
	insight := &domain.PatientInsight{
		PatientID:  patientID,
		VisitID:    visitID,
		Transcript: transcript,
		Insights:   make([]domain.InsightItem, 0, len(resp.Insights)),
		References: make([]domain.InsightReference, 0, len(resp.References)),
		CreatedAt:  now,
		ExpiresAt:  now.Add(domain.InsightRetention),
	}

	for _, item := range resp.Insights {
		insight.Insights = append(insight.Insights, domain.InsightItem{
			Title:           item.Title,
			Summary:         item.Summary,
			SourceID:        item.PubmedID,
			ConfidenceLabel: domain.CoerceConfidenceLabel(item.Confidence),
			RelevanceTag:    item.RelevanceTag,
		})
	}
	for _, ref := range resp.References {
		insight.References = append(insight.References, domain.InsightReference{
			SourceID: ref.PMID,
			Title:    ref.Title,
		})
	}

	if err := g.store.Upsert(ctx, insight); err != nil {
		g.recordOutcome("store_error")
		return nil, fmt.Errorf("failed to store insight: %w", err)
	}

	g.recordOutcome("success")
	logger.Info().
		Int("insights", len(insight.Insights)).
		Int("references", len(insight.References)).
		Msg("insight generated")

	return insight, nil
}

func (g *Generator) recordOutcome(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordInsightGenerated(outcome)
	}
}

// systemPrompt is the fixed instruction set for insight generation.
func systemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are a clinical decision-support assistant. Given a visit ")
	sb.WriteString("transcript and a list of vetted medical references, produce ")
	sb.WriteString("evidence-based insights relevant to the patient's presentation.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"insights": [{"title": "...", "summary": "...", "pubmed_id": "...", "confidence": "...", "relevance_tag": "..."}], "references": [{"pmid": "...", "title": "..."}]}`)
	sb.WriteString("\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("1. confidence MUST be one of: Strongly Recommended, Recommended, Moderately Recommended, Neutral, Not Recommended.\n")
	sb.WriteString("2. Cite pubmed_id only from the provided reference list; leave it empty otherwise.\n")
	sb.WriteString("3. Do not invent findings that are not supported by the transcript or the references.\n")
	sb.WriteString("4. Keep each summary under three sentences.\n")

	return sb.String()
}

// userPrompt embeds the transcript and the citation candidates.
func userPrompt(transcript string, candidates []domain.NormalizedReference) string {
	var sb strings.Builder

	sb.WriteString("Visit transcript:\n---\n")
	sb.WriteString(transcript)
	sb.WriteString("\n---\n\n")

	if len(candidates) == 0 {
		sb.WriteString("No stored references are available; generate insights from the transcript alone and leave pubmed_id empty.\n")
		return sb.String()
	}

	sb.WriteString("Available references:\n")
	for _, ref := range candidates {
		sb.WriteString(fmt.Sprintf("- id=%s title=%q summary=%q\n", ref.ID, ref.Title, ref.Summary))
	}

	return sb.String()
}
