package insights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/reference-harvester/internal/domain"
)

type stubChat struct {
	content      string
	err          error
	systemPrompt string
	userPrompt   string
}

func (c *stubChat) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	c.systemPrompt = systemPrompt
	c.userPrompt = userPrompt
	if c.err != nil {
		return "", c.err
	}
	return c.content, nil
}

func (c *stubChat) Model() string { return "stub-model" }

type stubSearcher struct {
	refs []domain.NormalizedReference
	err  error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]domain.NormalizedReference, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.refs, nil
}

type captureStore struct {
	insight *domain.PatientInsight
	err     error
}

func (s *captureStore) Upsert(_ context.Context, insight *domain.PatientInsight) error {
	if s.err != nil {
		return s.err
	}
	s.insight = insight
	return nil
}

const validResponse = `{
	"insights": [
		{
			"title": "Consider antihistamine trial",
			"summary": "Symptoms consistent with allergic rhinitis.",
			"pubmed_id": "111",
			"confidence": "recommended",
			"relevance_tag": "Relevant to allergic rhinitis"
		},
		{
			"title": "Avoid known triggers",
			"summary": "Exposure history suggests pollen sensitivity.",
			"pubmed_id": "",
			"confidence": "definitely maybe",
			"relevance_tag": "Relevant to allergy"
		}
	],
	"references": [
		{"pmid": "111", "title": "Allergic Rhinitis Management"}
	]
}`

func newTestGenerator(chat ChatClient, searcher ReferenceSearcher, store InsightStore) *Generator {
	return NewGenerator(chat, searcher, store, nil, zerolog.Nop())
}

func TestGenerator_Generate(t *testing.T) {
	chat := &stubChat{content: validResponse}
	searcher := &stubSearcher{refs: []domain.NormalizedReference{
		{ID: "111", Title: "Allergic Rhinitis Management", Summary: "antihistamines"},
	}}
	store := &captureStore{}
	g := newTestGenerator(chat, searcher, store)

	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	insight, err := g.Generate(context.Background(), "patient-1", "visit-1", "Patient reports sneezing.")
	require.NoError(t, err)
	require.NotNil(t, store.insight)

	assert.Equal(t, "patient-1", insight.PatientID)
	assert.Equal(t, "visit-1", insight.VisitID)
	assert.Equal(t, "Patient reports sneezing.", insight.Transcript)
	assert.Equal(t, now, insight.CreatedAt)
	assert.Equal(t, now.Add(domain.InsightRetention), insight.ExpiresAt)

	require.Len(t, insight.Insights, 2)
	assert.Equal(t, domain.ConfidenceRecommended, insight.Insights[0].ConfidenceLabel)
	assert.Equal(t, "111", insight.Insights[0].SourceID)

	// Unrecognized confidence text coerces to Neutral.
	assert.Equal(t, domain.ConfidenceNeutral, insight.Insights[1].ConfidenceLabel)

	require.Len(t, insight.References, 1)
	assert.Equal(t, "111", insight.References[0].SourceID)

	// The candidate reference is offered to the model.
	assert.Contains(t, chat.userPrompt, "id=111")
	assert.Contains(t, chat.userPrompt, "Patient reports sneezing.")
	assert.Contains(t, chat.systemPrompt, "Strongly Recommended")
}

func TestGenerator_Generate_WrappedJSON(t *testing.T) {
	chat := &stubChat{content: "Sure, here you go:\n```json\n" + validResponse + "\n```"}
	store := &captureStore{}
	g := newTestGenerator(chat, &stubSearcher{}, store)

	insight, err := g.Generate(context.Background(), "p", "v", "transcript")
	require.NoError(t, err)
	assert.Len(t, insight.Insights, 2)
}

func TestGenerator_Generate_ProceedsWithoutCandidates(t *testing.T) {
	chat := &stubChat{content: validResponse}
	searcher := &stubSearcher{err: errors.New("db down")}
	store := &captureStore{}
	g := newTestGenerator(chat, searcher, store)

	_, err := g.Generate(context.Background(), "p", "v", "transcript")
	require.NoError(t, err)
	assert.Contains(t, chat.userPrompt, "No stored references are available")
}

func TestGenerator_Generate_FailureModes(t *testing.T) {
	t.Run("LLM error is fatal", func(t *testing.T) {
		chat := &stubChat{err: errors.New("api down")}
		g := newTestGenerator(chat, &stubSearcher{}, &captureStore{})

		_, err := g.Generate(context.Background(), "p", "v", "transcript")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insight generation failed")
	})

	t.Run("response without JSON object is fatal", func(t *testing.T) {
		chat := &stubChat{content: "I cannot produce insights for this transcript."}
		g := newTestGenerator(chat, &stubSearcher{}, &captureStore{})

		_, err := g.Generate(context.Background(), "p", "v", "transcript")
		assert.ErrorIs(t, err, domain.ErrUnparseable)
	})

	t.Run("invalid JSON object is fatal", func(t *testing.T) {
		chat := &stubChat{content: `{"insights": "not-an-array"}`}
		g := newTestGenerator(chat, &stubSearcher{}, &captureStore{})

		_, err := g.Generate(context.Background(), "p", "v", "transcript")
		assert.ErrorIs(t, err, domain.ErrUnparseable)
	})

	t.Run("store failure is fatal", func(t *testing.T) {
		chat := &stubChat{content: validResponse}
		store := &captureStore{err: errors.New("connection refused")}
		g := newTestGenerator(chat, &stubSearcher{}, store)

		_, err := g.Generate(context.Background(), "p", "v", "transcript")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to store insight")
	})
}

func TestGenerator_Generate_Validation(t *testing.T) {
	g := newTestGenerator(&stubChat{}, &stubSearcher{}, &captureStore{})

	tests := []struct {
		name                           string
		patientID, visitID, transcript string
	}{
		{"missing patient ID", "", "v", "transcript"},
		{"missing visit ID", "p", "", "transcript"},
		{"missing transcript", "p", "v", ""},
		{"blank transcript", "p", "v", strings.Repeat(" ", 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(context.Background(), tt.patientID, tt.visitID, tt.transcript)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}
