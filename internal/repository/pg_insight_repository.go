package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// Compile-time interface verification.
var _ InsightRepository = (*PgInsightRepository)(nil)

// PgInsightRepository is a PostgreSQL implementation of InsightRepository.
type PgInsightRepository struct {
	db DBTX
}

// NewPgInsightRepository creates a new PostgreSQL insight repository.
func NewPgInsightRepository(db DBTX) *PgInsightRepository {
	return &PgInsightRepository{db: db}
}

// Upsert stores an insight record, overwriting any prior record for the
// same (patient_id, visit_id) pair.
func (r *PgInsightRepository) Upsert(ctx context.Context, insight *domain.PatientInsight) error {
	if insight == nil {
		return domain.NewValidationError("insight", "insight cannot be nil")
	}
	if insight.PatientID == "" {
		return domain.NewValidationError("patient_id", "patient ID is required")
	}
	if insight.VisitID == "" {
		return domain.NewValidationError("visit_id", "visit ID is required")
	}

	insightsJSON, err := json.Marshal(insight.Insights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	referencesJSON, err := json.Marshal(insight.References)
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}

	now := time.Now().UTC()
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = now
	}
	if insight.ExpiresAt.IsZero() {
		insight.ExpiresAt = now.Add(domain.InsightRetention)
	}

	query := `
		INSERT INTO patient_insights (
			patient_id, visit_id, transcript, insights, references_cited,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (patient_id, visit_id) DO UPDATE SET
			transcript = EXCLUDED.transcript,
			insights = EXCLUDED.insights,
			references_cited = EXCLUDED.references_cited,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	_, err = r.db.Exec(ctx, query,
		insight.PatientID,
		insight.VisitID,
		insight.Transcript,
		insightsJSON,
		referencesJSON,
		insight.CreatedAt,
		insight.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert insight: %w", err)
	}

	return nil
}

// Get retrieves the unexpired insight record for a visit.
func (r *PgInsightRepository) Get(ctx context.Context, patientID, visitID string) (*domain.PatientInsight, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient ID is required")
	}
	if visitID == "" {
		return nil, domain.NewValidationError("visit_id", "visit ID is required")
	}

	query := `
		SELECT patient_id, visit_id, transcript, insights, references_cited,
			created_at, expires_at
		FROM patient_insights
		WHERE patient_id = $1 AND visit_id = $2 AND expires_at > NOW()`

	var (
		insight        domain.PatientInsight
		insightsJSON   []byte
		referencesJSON []byte
	)
	err := r.db.QueryRow(ctx, query, patientID, visitID).Scan(
		&insight.PatientID,
		&insight.VisitID,
		&insight.Transcript,
		&insightsJSON,
		&referencesJSON,
		&insight.CreatedAt,
		&insight.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("insight", patientID+":"+visitID)
		}
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}

	if len(insightsJSON) > 0 {
		if err := json.Unmarshal(insightsJSON, &insight.Insights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
		}
	}
	if len(referencesJSON) > 0 {
		if err := json.Unmarshal(referencesJSON, &insight.References); err != nil {
			return nil, fmt.Errorf("failed to unmarshal references: %w", err)
		}
	}

	return &insight, nil
}

// DeleteExpired removes insight records whose retention has elapsed.
func (r *PgInsightRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM patient_insights WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired insights: %w", err)
	}
	return tag.RowsAffected(), nil
}
