package repository

import (
	"context"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// ReferenceRepository manages persistence and search of harvested references.
type ReferenceRepository interface {
	// WriteBatch persists a batch of normalized references. The batch is
	// split into fixed-size sub-batches written concurrently; the call
	// fails if any sub-batch fails. Writes are idempotent upserts keyed
	// by reference ID.
	WriteBatch(ctx context.Context, refs []domain.NormalizedReference) error

	// Search returns unexpired references whose title, summary, relevance
	// tag, or any keyword contains the query term, case-insensitively.
	// Results are ordered by confidence descending, then ID.
	Search(ctx context.Context, query string, limit int) ([]domain.NormalizedReference, error)

	// DeleteExpired removes references whose expiry has elapsed and
	// returns the number of rows deleted.
	DeleteExpired(ctx context.Context) (int64, error)
}
