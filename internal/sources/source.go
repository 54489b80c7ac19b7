// Package sources defines the abstractions shared by all reference source
// clients. Each external registry (PubMed, ClinicalTrials.gov) implements the
// ReferenceSource interface, allowing the harvest pipeline to fetch from
// multiple registries concurrently with a unified API.
//
// Example usage:
//
//	source := pubmed.New(cfg, httpClient)
//	params := sources.FetchParams{
//		Query:      "allergy treatment",
//		MaxResults: 20,
//	}
//	result, err := source.Fetch(ctx, params)
package sources

import (
	"context"
	"time"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// FetchParams defines the parameters for fetching references from a source.
type FetchParams struct {
	// Query is the search query string (required). The format varies by
	// source: PubMed accepts term syntax, ClinicalTrials.gov expects a
	// condition expression.
	Query string

	// MaxResults limits the number of references returned in a single fetch.
	// Sources may have their own maximum limits that override this value.
	// A value of 0 uses the source's default limit.
	MaxResults int
}

// FetchResult contains the references returned by one source fetch.
type FetchResult struct {
	// References contains the raw references returned by the fetch.
	// May be empty if nothing matched the query.
	References []domain.RawReference

	// Source identifies which registry provided these references.
	Source domain.SourceType

	// FetchDuration is the time taken to execute the fetch, including
	// network latency and response parsing.
	FetchDuration time.Duration
}

// ReferenceSource defines the interface that all reference source clients
// must implement.
type ReferenceSource interface {
	// Fetch queries the source for references matching the given parameters.
	// The context should be used for cancellation and deadline propagation.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting as needed
	//   - Transform source-specific responses to domain.RawReference
	//   - Include appropriate error wrapping with source context
	Fetch(ctx context.Context, params FetchParams) (*FetchResult, error)

	// SourceType returns the type identifier for this source.
	// Used for attribution and routing.
	SourceType() domain.SourceType

	// Name returns a human-readable name for this source.
	// Used for logging, metrics, and display purposes.
	Name() string

	// IsEnabled returns whether this source is currently enabled and
	// available for fetches. A source may be disabled via configuration.
	IsEnabled() bool
}
