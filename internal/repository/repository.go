// Package repository provides data access interfaces and PostgreSQL
// implementations for the Reference Harvester Service.
//
// # Repository Interfaces
//
//   - ReferenceRepository: Persists and searches harvested references
//   - InsightRepository: Persists per-visit patient insight records
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple
// goroutines. The underlying pgxpool handles connection pooling and
// synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Database errors are wrapped with context using fmt.Errorf with %w.
//
// # Transactions
//
// Repositories accept the DBTX interface, so they work against both the
// connection pool and a transaction from database.DB.WithTransaction.
package repository

import (
	"github.com/medscribe/reference-harvester/internal/database"
)

// DBTX is the database interface supporting both pool and transaction
// contexts. Repository constructors accept DBTX so callers can pass either a
// *database.DB or a pgx.Tx, and tests can pass a pgxmock pool.
type DBTX = database.DBTX

// Search pagination defaults and limits.
const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// applySearchLimit clamps a search result limit to [1, maxSearchLimit],
// substituting the default when unset.
func applySearchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
