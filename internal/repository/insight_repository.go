package repository

import (
	"context"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// InsightRepository manages persistence of per-visit patient insights.
type InsightRepository interface {
	// Upsert stores an insight record keyed by (patient_id, visit_id).
	// A later call for the same key overwrites the prior record.
	Upsert(ctx context.Context, insight *domain.PatientInsight) error

	// Get retrieves an unexpired insight record for a visit.
	// Returns domain.ErrNotFound if none exists or it has expired.
	Get(ctx context.Context, patientID, visitID string) (*domain.PatientInsight, error)

	// DeleteExpired removes insight records whose retention has elapsed
	// and returns the number of rows deleted.
	DeleteExpired(ctx context.Context) (int64, error)
}
