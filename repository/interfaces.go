// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/counterseq/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// CounterRepository is the durable, concurrency-safe store of counters
type CounterRepository interface {
	// Allocate atomically increments the counter for (scopeID, ref), creating it when absent,
	// and returns the new value. The first allocation for a key returns 1.
	Allocate(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error)
	// Reset sets to 0 every counter of scopeID whose reference contains all pairs of ref.
	// A nil or empty ref resets the whole scope. It returns the number of counters reset.
	Reset(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error)
	Current(ctx context.Context, scopeID string, ref models.ReferenceKey) (*models.Counter, error)
	ListByScope(ctx context.Context, scopeID string) ([]*models.Counter, error)
	EnsureSchema(ctx context.Context) error
	Collection() string
}

// DocumentRepository persists schemaless documents and runs before-save hooks on every write
type DocumentRepository interface {
	Use(hooks ...models.BeforeSaveHook)
	Create(ctx context.Context, doc *models.Document) error
	Update(ctx context.Context, doc *models.Document) error
	ByID(ctx context.Context, id uint) (*models.Document, error)
	ByFilter(ctx context.Context, filter models.DocumentFilter, orderBy string, limit, offset int) ([]*models.Document, error)
	Count(ctx context.Context, filter models.DocumentFilter) (int64, error)
}
