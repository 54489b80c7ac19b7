package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/observability"
)

// SubBatchSize is the number of references written per concurrent sub-batch.
const SubBatchSize = 25

// Compile-time interface verification.
var _ ReferenceRepository = (*PgReferenceRepository)(nil)

// PgReferenceRepository is a PostgreSQL implementation of ReferenceRepository.
type PgReferenceRepository struct {
	db      DBTX
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewPgReferenceRepository creates a new PostgreSQL reference repository.
// metrics may be nil; sub-batch outcomes are then not recorded.
func NewPgReferenceRepository(db DBTX, metrics *observability.Metrics, logger zerolog.Logger) *PgReferenceRepository {
	return &PgReferenceRepository{
		db:      db,
		metrics: metrics,
		logger:  logger.With().Str("component", "reference_repository").Logger(),
	}
}

const upsertReferenceQuery = `
	INSERT INTO harvested_references (
		id, title, summary, source_url, keywords,
		publication_date, confidence, relevance_tag, source, expires_at,
		created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		summary = EXCLUDED.summary,
		source_url = EXCLUDED.source_url,
		keywords = EXCLUDED.keywords,
		publication_date = EXCLUDED.publication_date,
		confidence = EXCLUDED.confidence,
		relevance_tag = EXCLUDED.relevance_tag,
		source = EXCLUDED.source,
		expires_at = EXCLUDED.expires_at`

// WriteBatch persists references in concurrent sub-batches of SubBatchSize.
// Each sub-batch is a single pgx.Batch roundtrip of idempotent upserts keyed
// by reference ID, so a rerun of the same harvest overwrites rather than
// duplicates. The call fails if any sub-batch fails; the first error wins.
func (r *PgReferenceRepository) WriteBatch(ctx context.Context, refs []domain.NormalizedReference) error {
	if len(refs) == 0 {
		return nil
	}

	for i, ref := range refs {
		if ref.ID == "" {
			return domain.NewValidationError("id", fmt.Sprintf("reference at index %d has no ID", i))
		}
	}

	chunks := partition(refs, SubBatchSize)
	errCh := make(chan error, len(chunks))
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(index int, chunk []domain.NormalizedReference) {
			defer wg.Done()

			if err := r.writeSubBatch(ctx, chunk); err != nil {
				if r.metrics != nil {
					r.metrics.RecordBatchWrite("failure")
				}
				r.logger.Error().
					Err(err).
					Int("sub_batch", index).
					Int("size", len(chunk)).
					Msg("sub-batch write failed")
				errCh <- fmt.Errorf("sub-batch %d: %w", index, err)
				return
			}
			if r.metrics != nil {
				r.metrics.RecordBatchWrite("success")
			}
		}(i, chunk)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// writeSubBatch sends one chunk of upserts as a single batch roundtrip.
func (r *PgReferenceRepository) writeSubBatch(ctx context.Context, refs []domain.NormalizedReference) error {
	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, ref := range refs {
		batch.Queue(upsertReferenceQuery,
			ref.ID,
			ref.Title,
			ref.Summary,
			ref.SourceURL,
			ref.Keywords,
			ref.PublicationDate,
			ref.Confidence,
			ref.RelevanceTag,
			string(ref.Source),
			ref.ExpiresAt,
			now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range refs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert reference at index %d: %w", i, err)
		}
	}
	return nil
}

// Search returns unexpired references matching the query term as a
// case-insensitive substring of title, summary, relevance tag, or any
// keyword, ordered by confidence descending with ID as tiebreaker.
func (r *PgReferenceRepository) Search(ctx context.Context, query string, limit int) ([]domain.NormalizedReference, error) {
	limit = applySearchLimit(limit)
	pattern := likePattern(query)

	sql := `
		SELECT id, title, summary, source_url, keywords,
			publication_date, confidence, relevance_tag, source, expires_at
		FROM harvested_references
		WHERE expires_at > NOW()
			AND (
				title ILIKE $1
				OR summary ILIKE $1
				OR relevance_tag ILIKE $1
				OR EXISTS (
					SELECT 1 FROM unnest(keywords) AS kw WHERE kw ILIKE $1
				)
			)
		ORDER BY confidence DESC, id ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, sql, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search references: %w", err)
	}
	defer rows.Close()

	refs := make([]domain.NormalizedReference, 0, limit)
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating references: %w", err)
	}

	return refs, nil
}

// DeleteExpired removes references whose expiry has elapsed.
func (r *PgReferenceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM harvested_references WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired references: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID retrieves a single reference regardless of expiry. Used by the
// insight flow to cite stored references.
func (r *PgReferenceRepository) GetByID(ctx context.Context, id string) (*domain.NormalizedReference, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "reference ID is required")
	}

	sql := `
		SELECT id, title, summary, source_url, keywords,
			publication_date, confidence, relevance_tag, source, expires_at
		FROM harvested_references
		WHERE id = $1`

	row := r.db.QueryRow(ctx, sql, id)
	ref, err := scanReferenceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("reference", id)
		}
		return nil, fmt.Errorf("failed to get reference by ID: %w", err)
	}
	return &ref, nil
}

// referenceScanDest holds the destination pointers for scanning a reference row.
type referenceScanDest struct {
	ref    domain.NormalizedReference
	source string
}

func (d *referenceScanDest) destinations() []interface{} {
	return []interface{}{
		&d.ref.ID, &d.ref.Title, &d.ref.Summary, &d.ref.SourceURL, &d.ref.Keywords,
		&d.ref.PublicationDate, &d.ref.Confidence, &d.ref.RelevanceTag, &d.source, &d.ref.ExpiresAt,
	}
}

func (d *referenceScanDest) finalize() domain.NormalizedReference {
	d.ref.Source = domain.SourceType(d.source)
	return d.ref
}

func scanReference(rows pgx.Rows) (domain.NormalizedReference, error) {
	var dest referenceScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return domain.NormalizedReference{}, err
	}
	return dest.finalize(), nil
}

func scanReferenceRow(row pgx.Row) (domain.NormalizedReference, error) {
	var dest referenceScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return domain.NormalizedReference{}, err
	}
	return dest.finalize(), nil
}

// partition splits refs into chunks of at most size elements.
func partition(refs []domain.NormalizedReference, size int) [][]domain.NormalizedReference {
	if size <= 0 {
		size = SubBatchSize
	}
	chunks := make([][]domain.NormalizedReference, 0, (len(refs)+size-1)/size)
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		chunks = append(chunks, refs[start:end])
	}
	return chunks
}

// likePattern escapes LIKE wildcards in the query and wraps it for
// substring matching.
func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return "%" + escaped + "%"
}
