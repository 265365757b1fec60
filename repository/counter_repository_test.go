package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/amirphl/counterseq/models"
	testingutil "github.com/amirphl/counterseq/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSQLiteCounterRepository(t *testing.T, collection string) (*gorm.DB, CounterRepository) {
	t.Helper()
	db, err := testingutil.SetupSQLiteDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := NewCounterRepository(db, collection)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return db, repo
}

// runCounterRepositoryContract checks the behavior every CounterRepository implementation shares
func runCounterRepositoryContract(t *testing.T, repo CounterRepository) {
	ctx := context.Background()
	paris := models.ReferenceKey{"country": "FR", "city": "Paris"}
	lyon := models.ReferenceKey{"country": "FR", "city": "Lyon"}
	nyc := models.ReferenceKey{"country": "US", "city": "NYC"}

	t.Run("first allocation returns 1", func(t *testing.T) {
		v, err := repo.Allocate(ctx, "first", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("allocations increase by one", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			v, err := repo.Allocate(ctx, "ids", nil)
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
		row, err := repo.Current(ctx, "ids", nil)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(3), row.Value)
	})

	t.Run("keys are independent", func(t *testing.T) {
		for _, ref := range []models.ReferenceKey{paris, paris, nyc, lyon} {
			_, err := repo.Allocate(ctx, "city_seq", ref)
			require.NoError(t, err)
		}
		current := func(ref models.ReferenceKey) int64 {
			row, err := repo.Current(ctx, "city_seq", ref)
			require.NoError(t, err)
			require.NotNil(t, row)
			return row.Value
		}
		assert.Equal(t, int64(2), current(paris))
		assert.Equal(t, int64(1), current(nyc))
		assert.Equal(t, int64(1), current(lyon))

		// same field names under another scope do not share state
		v, err := repo.Allocate(ctx, "other_seq", paris)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("reset exact key", func(t *testing.T) {
		n, err := repo.Reset(ctx, "city_seq", paris)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		v, err := repo.Allocate(ctx, "city_seq", paris)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		v, err = repo.Allocate(ctx, "city_seq", nyc)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("reset by partial reference", func(t *testing.T) {
		n, err := repo.Reset(ctx, "city_seq", models.ReferenceKey{"country": "FR"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		row, err := repo.Current(ctx, "city_seq", lyon)
		require.NoError(t, err)
		assert.Equal(t, int64(0), row.Value)

		row, err = repo.Current(ctx, "city_seq", nyc)
		require.NoError(t, err)
		assert.Equal(t, int64(2), row.Value)
	})

	t.Run("reset whole scope", func(t *testing.T) {
		n, err := repo.Reset(ctx, "city_seq", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		rows, err := repo.ListByScope(ctx, "city_seq")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		for _, row := range rows {
			assert.Equal(t, int64(0), row.Value)
		}

		other, err := repo.Current(ctx, "other_seq", paris)
		require.NoError(t, err)
		assert.Equal(t, int64(1), other.Value)
	})

	t.Run("reset with no match is not an error", func(t *testing.T) {
		n, err := repo.Reset(ctx, "city_seq", models.ReferenceKey{"country": "DE"})
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.Reset(ctx, "never_used", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("current of unknown key is nil", func(t *testing.T) {
		row, err := repo.Current(ctx, "city_seq", models.ReferenceKey{"country": "JP", "city": "Tokyo"})
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("list is ordered and carries references", func(t *testing.T) {
		rows, err := repo.ListByScope(ctx, "city_seq")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			keys = append(keys, row.ReferenceKey)
			assert.Equal(t, "city_seq", row.ScopeID)
			assert.Equal(t, row.ReferenceKey, row.Reference.Canonical())
		}
		assert.True(t, sort.StringsAreSorted(keys))
	})

	t.Run("concurrent allocations yield every value exactly once", func(t *testing.T) {
		const n = 40
		values := make([]int64, n)
		errs := make([]error, n)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				values[i], errs[i] = repo.Allocate(ctx, "burst", models.ReferenceKey{"shop": "main"})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		for i, v := range values {
			assert.Equal(t, int64(i+1), v)
		}
	})
}

func TestCounterRepository(t *testing.T) {
	_, repo := newSQLiteCounterRepository(t, "counters")
	assert.Equal(t, "counters", repo.Collection())
	runCounterRepositoryContract(t, repo)
}

func TestCounterRepositoryCustomCollection(t *testing.T) {
	db, repo := newSQLiteCounterRepository(t, "invoice_counters")
	ctx := context.Background()

	_, err := repo.Allocate(ctx, "invoice", nil)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("invoice_counters"))

	var count int64
	require.NoError(t, db.Table("invoice_counters").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// EnsureSchema is idempotent
	require.NoError(t, repo.EnsureSchema(ctx))
}

func TestCounterRepositoryJoinsCallerTransaction(t *testing.T) {
	db, repo := newSQLiteCounterRepository(t, "counters")
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := WithTransaction(ctx, db, func(txCtx context.Context) error {
		v, err := repo.Allocate(txCtx, "tx_seq", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	// rolled back with the caller, so the sequence has no gap
	v, err := repo.Allocate(ctx, "tx_seq", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCounterRepositoryIgnoresCallerStatement(t *testing.T) {
	db, repo := newSQLiteCounterRepository(t, "counters")
	ctx := context.Background()
	ref := models.ReferenceKey{"queue": "billing"}

	err := db.Transaction(func(tx *gorm.DB) error {
		// the caller's statement is bound to another model, as it is inside a create callback
		busy := tx.Model(&models.Document{}).Where("collection = ?", "tickets")
		txCtx := ContextWithTx(ctx, busy.Session(&gorm.Session{NewDB: true}))

		v, err := repo.Allocate(txCtx, "ticket_no", ref)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		row, err := repo.Current(txCtx, "ticket_no", ref)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, ref, row.Reference)

		n, err := repo.Reset(txCtx, "ticket_no", ref)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

// injectConflicts makes the next n counter inserts fail with a duplicate key error
func injectConflicts(t *testing.T, db *gorm.DB, table string, n int) *int {
	t.Helper()
	calls := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:inject_conflict", func(tx *gorm.DB) {
		if tx.Statement.Table != table {
			return
		}
		calls++
		if calls <= n {
			_ = tx.AddError(gorm.ErrDuplicatedKey)
		}
	})
	require.NoError(t, err)
	return &calls
}

func TestCounterRepositoryRetriesCreationRace(t *testing.T) {
	t.Run("conflicts below the limit are retried", func(t *testing.T) {
		db, repo := newSQLiteCounterRepository(t, "counters")
		calls := injectConflicts(t, db, "counters", 2)

		v, err := repo.Allocate(context.Background(), "race", models.ReferenceKey{"k": "v"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		assert.Equal(t, 3, *calls)
	})

	t.Run("exhausted retries surface a storage error", func(t *testing.T) {
		db, repo := newSQLiteCounterRepository(t, "counters")
		calls := injectConflicts(t, db, "counters", MaxAllocateAttempts)

		_, err := repo.Allocate(context.Background(), "race", nil)
		require.Error(t, err)
		assert.True(t, IsStorageError(err))
		assert.ErrorIs(t, err, ErrAllocationConflict)
		assert.NotErrorIs(t, err, gorm.ErrDuplicatedKey)
		assert.Equal(t, MaxAllocateAttempts, *calls)

		row, err := repo.Current(context.Background(), "race", nil)
		require.NoError(t, err)
		assert.Nil(t, row)
	})
}

func TestCounterRepositoryByFilter(t *testing.T) {
	_, repo := newSQLiteCounterRepository(t, "counters")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Allocate(ctx, "a", models.ReferenceKey{"k": "x"})
		require.NoError(t, err)
	}
	_, err := repo.Allocate(ctx, "a", models.ReferenceKey{"k": "y"})
	require.NoError(t, err)

	impl := repo.(*CounterRepositoryImpl)
	min := int64(2)
	rows, err := impl.ByFilter(ctx, models.CounterFilter{MinValue: &min}, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ReferenceKey{"k": "x"}, rows[0].Reference)

	scope := "a"
	count, err := impl.Count(ctx, models.CounterFilter{ScopeID: &scope})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCounterRepositoryStorageError(t *testing.T) {
	db, repo := newSQLiteCounterRepository(t, "counters")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.Allocate(context.Background(), "closed", nil)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	_, err = repo.Reset(context.Background(), "closed", nil)
	assert.True(t, IsStorageError(err))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "ux_counters_scope_ref" (SQLSTATE 23505)`)))
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: counters.scope_id, counters.reference_key")))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
	assert.False(t, isDuplicateKey(nil))
}

func TestCounterRepositoryPostgres(t *testing.T) {
	if !testingutil.PostgresEnabled() {
		t.Skip("TEST_DB_HOST not set")
	}
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := NewCounterRepository(testDB.DB, "counters")
		if err := repo.EnsureSchema(context.Background()); err != nil {
			return err
		}
		runCounterRepositoryContract(t, repo)
		return nil
	})
	require.NoError(t, err)
}
