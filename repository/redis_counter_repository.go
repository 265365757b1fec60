package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/amirphl/counterseq/models"
	"github.com/redis/go-redis/v9"
)

// redisGlobalField is the hash field of a scope's unscoped counter; canonical keys always start with '{'
const redisGlobalField = "-"

// RedisCounterRepository keeps one hash per scope; each hash field is a canonical reference key
type RedisCounterRepository struct {
	client     redis.UniversalClient
	prefix     string
	collection string
}

// NewRedisCounterRepository creates a Redis backed counter repository
func NewRedisCounterRepository(client redis.UniversalClient, prefix, collection string) CounterRepository {
	if collection == "" {
		collection = models.DefaultCounterCollection
	}
	return &RedisCounterRepository{
		client:     client,
		prefix:     prefix,
		collection: collection,
	}
}

func (r *RedisCounterRepository) Collection() string {
	return r.collection
}

func (r *RedisCounterRepository) hashKey(scopeID string) string {
	return r.prefix + r.collection + ":" + scopeID
}

func hashField(ref models.ReferenceKey) string {
	if ref.IsGlobal() {
		return redisGlobalField
	}
	return ref.Canonical()
}

func fieldReference(field string) (models.ReferenceKey, string, error) {
	if field == redisGlobalField {
		return nil, "", nil
	}
	ref, err := models.ParseReferenceKey(field)
	return ref, field, err
}

// EnsureSchema only checks connectivity; hashes are created by the first HINCRBY
func (r *RedisCounterRepository) EnsureSchema(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return newStorageError("ensure_schema", err)
	}
	return nil
}

func (r *RedisCounterRepository) Allocate(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error) {
	start := time.Now()
	value, err := r.client.HIncrBy(ctx, r.hashKey(scopeID), hashField(ref), 1).Result()
	if err != nil {
		return 0, newStorageError("allocate", err)
	}
	observeAllocation(r.collection, scopeID, start)
	return value, nil
}

// Reset applies the same subset matching as the SQL store; matched fields are zeroed in one MULTI/EXEC
func (r *RedisCounterRepository) Reset(ctx context.Context, scopeID string, ref models.ReferenceKey) (int64, error) {
	key := r.hashKey(scopeID)
	fields, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return 0, newStorageError("reset", err)
	}

	matched := make([]string, 0, len(fields))
	for _, field := range fields {
		stored, _, err := fieldReference(field)
		if err != nil {
			return 0, newStorageError("reset", err)
		}
		if stored.Matches(ref) {
			matched = append(matched, field)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, field := range matched {
			pipe.HSet(ctx, key, field, 0)
		}
		return nil
	})
	if err != nil {
		return 0, newStorageError("reset", err)
	}

	resetsTotal.WithLabelValues(r.collection).Inc()
	return int64(len(matched)), nil
}

func (r *RedisCounterRepository) Current(ctx context.Context, scopeID string, ref models.ReferenceKey) (*models.Counter, error) {
	raw, err := r.client.HGet(ctx, r.hashKey(scopeID), hashField(ref)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, newStorageError("current", err)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newStorageError("current", err)
	}
	return &models.Counter{
		ScopeID:      scopeID,
		ReferenceKey: ref.Canonical(),
		Reference:    ref,
		Value:        value,
	}, nil
}

func (r *RedisCounterRepository) ListByScope(ctx context.Context, scopeID string) ([]*models.Counter, error) {
	all, err := r.client.HGetAll(ctx, r.hashKey(scopeID)).Result()
	if err != nil {
		return nil, newStorageError("list", err)
	}

	rows := make([]*models.Counter, 0, len(all))
	for field, raw := range all {
		ref, canonical, err := fieldReference(field)
		if err != nil {
			return nil, newStorageError("list", err)
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, newStorageError("list", err)
		}
		rows = append(rows, &models.Counter{
			ScopeID:      scopeID,
			ReferenceKey: canonical,
			Reference:    ref,
			Value:        value,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ReferenceKey < rows[j].ReferenceKey })
	return rows, nil
}
