//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/repository"
)

func newTestReference(id, title string) domain.NormalizedReference {
	pub := time.Now().UTC().AddDate(0, -3, 0).Truncate(time.Microsecond)
	return domain.NormalizedReference{
		ID:              id,
		Title:           title,
		Summary:         "Summary for " + title,
		SourceURL:       "https://pubmed.ncbi.nlm.nih.gov/" + id,
		Keywords:        []string{"allergy", "immunotherapy"},
		PublicationDate: pub,
		Confidence:      0.8,
		RelevanceTag:    "Relevant to allergy",
		Source:          domain.SourceTypePubMed,
		ExpiresAt:       time.Now().UTC().Add(24 * time.Hour).Truncate(time.Microsecond),
	}
}

func TestPgReferenceRepository_Integration(t *testing.T) {
	cleanTable(t, "harvested_references")
	repo := repository.NewPgReferenceRepository(testPool, nil, zerolog.Nop())
	ctx := context.Background()

	t.Run("WriteBatch and Search roundtrip", func(t *testing.T) {
		refs := []domain.NormalizedReference{
			newTestReference("pubmed-1001", "Peanut allergy desensitization outcomes"),
			newTestReference("pubmed-1002", "Pollen immunotherapy in adults"),
		}
		require.NoError(t, repo.WriteBatch(ctx, refs))

		got, err := repo.Search(ctx, "allergy", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "pubmed-1001", got[0].ID)
		assert.Equal(t, []string{"allergy", "immunotherapy"}, got[0].Keywords)
		assert.Equal(t, domain.SourceTypePubMed, got[0].Source)
	})

	t.Run("WriteBatch is an idempotent upsert", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		ref := newTestReference("pubmed-2001", "Original title")
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{ref}))

		ref.Title = "Updated title"
		ref.Confidence = 0.95
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{ref}))

		got, err := repo.Search(ctx, "Updated", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Updated title", got[0].Title)
		assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	})

	t.Run("WriteBatch spanning multiple sub-batches", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		refs := make([]domain.NormalizedReference, 0, repository.SubBatchSize*2+3)
		for i := 0; i < cap(refs); i++ {
			refs = append(refs, newTestReference(fmt.Sprintf("pubmed-bulk-%03d", i), "Bulk allergy study"))
		}
		require.NoError(t, repo.WriteBatch(ctx, refs))

		got, err := repo.Search(ctx, "Bulk allergy", 100)
		require.NoError(t, err)
		assert.Len(t, got, cap(refs))
	})

	t.Run("Search matches keywords case-insensitively", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		ref := newTestReference("trials-3001", "Asthma trial NCT01")
		ref.Keywords = []string{"Dust Mites"}
		ref.Source = domain.SourceTypeClinicalTrials
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{ref}))

		got, err := repo.Search(ctx, "dust mites", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "trials-3001", got[0].ID)
	})

	t.Run("Search orders by confidence descending", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		low := newTestReference("pubmed-4001", "Allergy study low")
		low.Confidence = 0.4
		high := newTestReference("pubmed-4002", "Allergy study high")
		high.Confidence = 0.9
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{low, high}))

		got, err := repo.Search(ctx, "Allergy study", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "pubmed-4002", got[0].ID)
		assert.Equal(t, "pubmed-4001", got[1].ID)
	})

	t.Run("Search excludes expired references", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		live := newTestReference("pubmed-5001", "Live allergy reference")
		expired := newTestReference("pubmed-5002", "Expired allergy reference")
		expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{live, expired}))

		got, err := repo.Search(ctx, "allergy reference", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "pubmed-5001", got[0].ID)
	})

	t.Run("DeleteExpired removes only elapsed rows", func(t *testing.T) {
		cleanTable(t, "harvested_references")

		live := newTestReference("pubmed-6001", "Live reference")
		expired := newTestReference("pubmed-6002", "Expired reference")
		expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, repo.WriteBatch(ctx, []domain.NormalizedReference{live, expired}))

		deleted, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetByID(ctx, "pubmed-6001")
		require.NoError(t, err)
		_, err = repo.GetByID(ctx, "pubmed-6002")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPgInsightRepository_Integration(t *testing.T) {
	cleanTable(t, "patient_insights")
	repo := repository.NewPgInsightRepository(testPool)
	ctx := context.Background()

	newInsight := func(patientID, visitID string) *domain.PatientInsight {
		return &domain.PatientInsight{
			PatientID:  patientID,
			VisitID:    visitID,
			Transcript: "Patient reports seasonal rhinitis.",
			Insights: []domain.InsightItem{
				{
					Title:           "Antihistamine trial",
					Summary:         "Consider a second-generation antihistamine.",
					SourceID:        "pubmed-1001",
					ConfidenceLabel: domain.ConfidenceRecommended,
					RelevanceTag:    "Relevant to allergy",
				},
			},
			References: []domain.InsightReference{
				{SourceID: "pubmed-1001", Title: "Pollen immunotherapy in adults"},
			},
		}
	}

	t.Run("Upsert and Get roundtrip", func(t *testing.T) {
		insight := newInsight("patient-1", "visit-1")
		require.NoError(t, repo.Upsert(ctx, insight))

		got, err := repo.Get(ctx, "patient-1", "visit-1")
		require.NoError(t, err)
		assert.Equal(t, insight.Transcript, got.Transcript)
		require.Len(t, got.Insights, 1)
		assert.Equal(t, domain.ConfidenceRecommended, got.Insights[0].ConfidenceLabel)
		require.Len(t, got.References, 1)
		assert.Equal(t, "pubmed-1001", got.References[0].SourceID)
		assert.False(t, got.ExpiresAt.IsZero())
	})

	t.Run("Upsert overwrites the same visit", func(t *testing.T) {
		insight := newInsight("patient-2", "visit-1")
		require.NoError(t, repo.Upsert(ctx, insight))

		insight.Insights = []domain.InsightItem{
			{
				Title:           "Follow up",
				Summary:         "Re-test in six weeks.",
				ConfidenceLabel: domain.ConfidenceNeutral,
			},
		}
		require.NoError(t, repo.Upsert(ctx, insight))

		got, err := repo.Get(ctx, "patient-2", "visit-1")
		require.NoError(t, err)
		require.Len(t, got.Insights, 1)
		assert.Equal(t, "Follow up", got.Insights[0].Title)
	})

	t.Run("Get excludes expired records", func(t *testing.T) {
		insight := newInsight("patient-3", "visit-1")
		insight.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, repo.Upsert(ctx, insight))

		_, err := repo.Get(ctx, "patient-3", "visit-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Get unknown visit returns not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "patient-404", "visit-404")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DeleteExpired removes only elapsed records", func(t *testing.T) {
		cleanTable(t, "patient_insights")

		live := newInsight("patient-5", "visit-1")
		require.NoError(t, repo.Upsert(ctx, live))

		expired := newInsight("patient-5", "visit-2")
		expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, repo.Upsert(ctx, expired))

		deleted, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.Get(ctx, "patient-5", "visit-1")
		require.NoError(t, err)
	})
}
