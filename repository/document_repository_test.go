package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/counterseq/models"
	testingutil "github.com/amirphl/counterseq/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	events []models.Operation
	err    error
	fn     func(ctx context.Context, event *models.LifecycleEvent) error
}

func (h *recordingHook) BeforeSave(ctx context.Context, event *models.LifecycleEvent) error {
	h.events = append(h.events, event.Operation)
	if h.fn != nil {
		if err := h.fn(ctx, event); err != nil {
			return err
		}
	}
	return h.err
}

func TestDocumentRepository(t *testing.T) {
	db, counters := newSQLiteCounterRepository(t, "counters")
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	hook := &recordingHook{
		fn: func(ctx context.Context, event *models.LifecycleEvent) error {
			if event.Operation != models.OperationCreate {
				return nil
			}
			v, err := counters.Allocate(ctx, "orders", nil)
			if err != nil {
				return err
			}
			return event.Record.SetField("number", v)
		},
	}
	repo.Use(hook)

	t.Run("create runs hooks before insert", func(t *testing.T) {
		doc := models.NewDocument("orders", map[string]any{"title": "first"})
		require.NoError(t, repo.Create(ctx, doc))
		assert.False(t, doc.IsNew())
		assert.False(t, doc.CreatedAt.IsZero())

		stored, err := repo.ByID(ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		n, ok := stored.Int64Field("number")
		assert.True(t, ok)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, doc.UUID, stored.UUID)
	})

	t.Run("update runs hooks with update operation", func(t *testing.T) {
		doc := models.NewDocument("orders", map[string]any{"title": "second"})
		require.NoError(t, repo.Create(ctx, doc))

		hook.events = nil
		doc.Fields["title"] = "renamed"
		require.NoError(t, repo.Update(ctx, doc))
		assert.Equal(t, []models.Operation{models.OperationUpdate}, hook.events)

		stored, err := repo.ByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", stored.Fields["title"])
		n, _ := stored.Int64Field("number")
		assert.Equal(t, int64(2), n)
	})

	t.Run("create of a persisted document is rejected", func(t *testing.T) {
		doc := models.NewDocument("orders", nil)
		require.NoError(t, repo.Create(ctx, doc))
		assert.ErrorIs(t, repo.Create(ctx, doc), ErrDocumentAlreadyPersisted)
		assert.ErrorIs(t, repo.Update(ctx, models.NewDocument("orders", nil)), ErrDocumentNotPersisted)
	})

	t.Run("filter by collection", func(t *testing.T) {
		other := models.NewDocument("invoices", nil)
		require.NoError(t, repo.Create(ctx, other))

		collection := "orders"
		count, err := repo.Count(ctx, models.DocumentFilter{Collection: &collection})
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		docs, err := repo.ByFilter(ctx, models.DocumentFilter{UUID: &other.UUID}, "", 1, 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "invoices", docs[0].Collection)
	})
}

func TestDocumentRepositoryHookFailureRollsBack(t *testing.T) {
	db, counters := newSQLiteCounterRepository(t, "counters")
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	errHook := errors.New("hook failed")
	repo.Use(&recordingHook{
		fn: func(ctx context.Context, event *models.LifecycleEvent) error {
			if _, err := counters.Allocate(ctx, "orders", nil); err != nil {
				return err
			}
			return errHook
		},
	})

	doc := models.NewDocument("orders", nil)
	err := repo.Create(ctx, doc)
	require.ErrorIs(t, err, errHook)
	assert.True(t, doc.IsNew())

	count, err := repo.Count(ctx, models.DocumentFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	// the allocation rolled back with the insert
	row, err := counters.Current(ctx, "orders", nil)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestDocumentRepositoryUpdateOfPreexistingDocument(t *testing.T) {
	db, _ := newSQLiteCounterRepository(t, "counters")
	repo := NewDocumentRepository(db)
	hook := &recordingHook{}
	repo.Use(hook)

	doc, err := testingutil.NewTestFixtures(db).InsertRawDocument("orders", testingutil.LocationFields("FR", "Paris"))
	require.NoError(t, err)

	doc.Fields["city"] = "Lyon"
	require.NoError(t, repo.Update(context.Background(), doc))
	assert.Equal(t, []models.Operation{models.OperationUpdate}, hook.events)
}
