package sources

import (
	"context"
	"sync"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// SourceResult holds the result of a fetch from one source.
type SourceResult struct {
	// Source identifies which registry provided the result.
	Source domain.SourceType

	// Result contains the fetched references if the fetch succeeded.
	// Will be nil if Error is non-nil.
	Result *FetchResult

	// Error contains the error if the fetch failed.
	// Will be nil if Result is non-nil.
	Error error
}

// Registry manages reference sources and coordinates concurrent fetches.
// It provides thread-safe registration and retrieval of sources, as well as
// concurrent fetch operations across multiple sources. A failure in one
// source never affects another; each SourceResult carries its own error.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]ReferenceSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]ReferenceSource),
	}
}

// Register adds a source to the registry.
// If a source with the same type already exists, it will be replaced.
// This method is thread-safe.
func (r *Registry) Register(source ReferenceSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
// This method is thread-safe.
func (r *Registry) Get(sourceType domain.SourceType) ReferenceSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// AllSources returns all registered sources.
// The returned slice is a snapshot and is safe to iterate even if
// sources are added or removed concurrently.
// This method is thread-safe.
func (r *Registry) AllSources() []ReferenceSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]ReferenceSource, 0, len(r.sources))
	for _, source := range r.sources {
		sources = append(sources, source)
	}
	return sources
}

// EnabledSources returns only enabled sources.
// Sources are considered enabled if their IsEnabled() method returns true.
// This method is thread-safe.
func (r *Registry) EnabledSources() []ReferenceSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]ReferenceSource, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsEnabled() {
			sources = append(sources, source)
		}
	}
	return sources
}

// FetchAll fetches from all enabled sources concurrently, using the query
// configured per source type. Returns results for each source, including
// errors. Errors are not filtered; the caller decides how to degrade.
// The fetch respects context cancellation - if the context is canceled,
// ongoing fetches will be interrupted and their errors returned.
// This method is thread-safe.
func (r *Registry) FetchAll(ctx context.Context, params map[domain.SourceType]FetchParams) []SourceResult {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil
	}

	resultChan := make(chan SourceResult, len(sources))
	var wg sync.WaitGroup

	for _, source := range sources {
		p, ok := params[source.SourceType()]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(s ReferenceSource, p FetchParams) {
			defer wg.Done()

			result, err := s.Fetch(ctx, p)
			resultChan <- SourceResult{
				Source: s.SourceType(),
				Result: result,
				Error:  err,
			}
		}(source, p)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]SourceResult, 0, len(sources))
	for result := range resultChan {
		results = append(results, result)
	}

	return results
}
