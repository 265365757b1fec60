package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxAllocateAttempts bounds how often Allocate retries a lost creation race
const MaxAllocateAttempts = 5

// CounterRepositoryImpl implements CounterRepository on top of a SQL table with an atomic upsert
type CounterRepositoryImpl struct {
	*BaseRepository[models.Counter, models.CounterFilter]
	collection string
	retryDelay time.Duration
}

// NewCounterRepository creates a counter repository storing rows in the given table
func NewCounterRepository(db *gorm.DB, collection string) CounterRepository {
	if collection == "" {
		collection = models.DefaultCounterCollection
	}
	return &CounterRepositoryImpl{
		BaseRepository: NewBaseRepositoryForTable[models.Counter, models.CounterFilter](db, collection),
		collection:     collection,
		retryDelay:     5 * time.Millisecond,
	}
}

func (r *CounterRepositoryImpl) Collection() string {
	return r.collection
}

// EnsureSchema creates the counter table and its (scope_id, reference_key) unique index
func (r *CounterRepositoryImpl) EnsureSchema(ctx context.Context) error {
	db := r.DB.WithContext(ctx)
	if err := db.Table(r.collection).AutoMigrate(&models.Counter{}); err != nil {
		return newStorageError("ensure_schema", err)
	}
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_scope_ref ON %s (scope_id, reference_key)", r.collection, r.collection)
	if err := db.Exec(stmt).Error; err != nil {
		return newStorageError("ensure_schema", err)
	}
	return nil
}

// Allocate increments the counter for (scopeID, ref) in a single INSERT .. ON CONFLICT DO UPDATE .. RETURNING.
// A duplicate-key error can only come from two first-time inserts racing; the loser retries and lands on the update path.
func (r *CounterRepositoryImpl) Allocate(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error) {
	start := time.Now()
	key := ref.Canonical()

	var lastErr error
	for attempt := 1; attempt <= MaxAllocateAttempts; attempt++ {
		value, err := r.upsertIncrement(ctx, scopeID, key, ref)
		if err == nil {
			observeAllocation(r.collection, scopeID, start)
			return value, nil
		}
		if !isDuplicateKey(err) {
			return 0, newStorageError("allocate", err)
		}
		lastErr = err
		allocationRetries.WithLabelValues(r.collection).Inc()

		select {
		case <-ctx.Done():
			return 0, newStorageError("allocate", ctx.Err())
		case <-time.After(time.Duration(attempt) * r.retryDelay):
		}
	}

	return 0, newStorageError("allocate", fmt.Errorf("%w after %d attempts: %v", ErrAllocationConflict, MaxAllocateAttempts, lastErr))
}

func (r *CounterRepositoryImpl) upsertIncrement(ctx context.Context, scopeID, key string, ref models.ReferenceKey) (int64, error) {
	now := utils.UTCNow()
	row := models.Counter{
		ScopeID:      scopeID,
		ReferenceKey: key,
		Reference:    ref,
		Value:        1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Nested Transaction turns into a savepoint when ctx already carries one,
	// so a failed attempt does not poison the caller's transaction.
	err := r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(r.collection).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "scope_id"}, {Name: "reference_key"}},
				DoUpdates: clause.Assignments(map[string]any{
					"seq":        clause.Expr{SQL: fmt.Sprintf("%s.seq + 1", r.collection)},
					"updated_at": clause.Expr{SQL: "EXCLUDED.updated_at"},
				}),
			},
			clause.Returning{},
		).Create(&row).Error
	})
	if err != nil {
		return 0, err
	}
	return row.Value, nil
}

// Reset zeroes counters of a scope. With a reference it uses subset matching:
// a counter is reset when its stored reference holds every supplied field with the same value.
func (r *CounterRepositoryImpl) Reset(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error) {
	var affected int64
	updates := map[string]any{"seq": 0, "updated_at": utils.UTCNow()}

	err := r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if ref.IsGlobal() {
			res := tx.Table(r.collection).Where("scope_id = ?", scopeID).Updates(updates)
			affected = res.RowsAffected
			return res.Error
		}

		var rows []*models.Counter
		if err := tx.Table(r.collection).Where("scope_id = ?", scopeID).Find(&rows).Error; err != nil {
			return err
		}

		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			stored, err := storedReference(row)
			if err != nil {
				return err
			}
			if stored.Matches(ref) {
				ids = append(ids, row.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Table(r.collection).Where("id IN ?", ids).Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, newStorageError("reset", err)
	}

	resetsTotal.WithLabelValues(r.collection).Inc()
	return affected, nil
}

// Current returns the counter for an exact (scopeID, ref) pair, or nil when it was never allocated
func (r *CounterRepositoryImpl) Current(ctx context.Context, scopeID string, ref models.ReferenceKey) (*models.Counter, error) {
	var row models.Counter
	err := r.getTable(ctx).
		Where("scope_id = ? AND reference_key = ?", scopeID, ref.Canonical()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, newStorageError("current", err)
	}
	return &row, nil
}

// ListByScope returns every counter of a scope ordered by reference key
func (r *CounterRepositoryImpl) ListByScope(ctx context.Context, scopeID string) ([]*models.Counter, error) {
	return r.ByFilter(ctx, models.CounterFilter{ScopeID: &scopeID}, "reference_key ASC", 0, 0)
}

// ByFilter retrieves counters based on filter criteria
func (r *CounterRepositoryImpl) ByFilter(ctx context.Context, filter models.CounterFilter, orderBy string, limit, offset int) ([]*models.Counter, error) {
	query := r.applyFilter(r.getTable(ctx), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Counter
	if err := query.Find(&rows).Error; err != nil {
		return nil, newStorageError("list", err)
	}
	return rows, nil
}

// Count returns the number of counters matching the filter
func (r *CounterRepositoryImpl) Count(ctx context.Context, filter models.CounterFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getTable(ctx), filter).Count(&count).Error; err != nil {
		return 0, newStorageError("count", err)
	}
	return count, nil
}

func (r *CounterRepositoryImpl) applyFilter(db *gorm.DB, f models.CounterFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ScopeID != nil {
		db = db.Where("scope_id = ?", *f.ScopeID)
	}
	if f.ReferenceKey != nil {
		db = db.Where("reference_key = ?", *f.ReferenceKey)
	}
	if f.MinValue != nil {
		db = db.Where("seq >= ?", *f.MinValue)
	}
	if f.UpdatedAfter != nil {
		db = db.Where("updated_at >= ?", *f.UpdatedAfter)
	}
	if f.UpdatedBefore != nil {
		db = db.Where("updated_at < ?", *f.UpdatedBefore)
	}
	return db
}

func storedReference(row *models.Counter) (models.ReferenceKey, error) {
	if len(row.Reference) > 0 {
		return row.Reference, nil
	}
	return models.ParseReferenceKey(row.ReferenceKey)
}
