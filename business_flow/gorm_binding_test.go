package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invoice struct {
	ID      uint `gorm:"primaryKey"`
	Country string
	Number  int64
	Title   string
}

type taggedInvoice struct {
	ID     uint `gorm:"primaryKey"`
	Number string
}

func TestAttachNumbersGormModels(t *testing.T) {
	host := newSQLiteHost(t, "counters")
	require.NoError(t, host.db.AutoMigrate(&invoice{}))

	binding := mustBinding(t, CounterOptions{
		ID:              "invoice_no",
		IncField:        utils.ToPtr("Number"),
		ReferenceFields: models.FieldList{"country"},
	}, host.store)
	require.NoError(t, binding.Attach(host.db, &invoice{}))

	first := invoice{Country: "FR", Title: "a"}
	require.NoError(t, host.db.Create(&first).Error)
	second := invoice{Country: "FR", Title: "b"}
	require.NoError(t, host.db.Create(&second).Error)
	other := invoice{Country: "US", Title: "c"}
	require.NoError(t, host.db.Create(&other).Error)

	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)
	assert.Equal(t, int64(1), other.Number)

	var stored invoice
	require.NoError(t, host.db.First(&stored, second.ID).Error)
	assert.Equal(t, int64(2), stored.Number)

	t.Run("save of an existing row does not allocate", func(t *testing.T) {
		second.Title = "renamed"
		require.NoError(t, host.db.Save(&second).Error)
		assert.Equal(t, int64(2), second.Number)

		row, err := host.store.Current(context.Background(), "invoice_no", models.ReferenceKey{"country": "FR"})
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(2), row.Value)
	})

	t.Run("batch create numbers every row", func(t *testing.T) {
		batch := []invoice{{Country: "FR"}, {Country: "FR"}, {Country: "US"}}
		require.NoError(t, host.db.Create(&batch).Error)
		assert.Equal(t, int64(3), batch[0].Number)
		assert.Equal(t, int64(4), batch[1].Number)
		assert.Equal(t, int64(2), batch[2].Number)
	})

	t.Run("other tables are untouched", func(t *testing.T) {
		doc := models.NewDocument("orders", nil)
		doc.CreatedAt = utils.UTCNow()
		doc.UpdatedAt = doc.CreatedAt
		require.NoError(t, host.db.Create(doc).Error)
		_, ok := doc.Field("Number")
		assert.False(t, ok)
	})
}

func TestAttachStorageFailureAbortsCreate(t *testing.T) {
	host := newSQLiteHost(t, "counters")
	require.NoError(t, host.db.AutoMigrate(&invoice{}))

	store := newFakeCounterStore()
	store.failWith = assert.AnError
	binding := mustBinding(t, CounterOptions{IncField: utils.ToPtr("Number")}, store)
	require.NoError(t, binding.Attach(host.db, &invoice{}))

	err := host.db.Create(&invoice{Title: "x"}).Error
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	var count int64
	require.NoError(t, host.db.Model(&invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAttachRejectsUnusableFields(t *testing.T) {
	host := newSQLiteHost(t, "counters")

	t.Run("missing field", func(t *testing.T) {
		binding := mustBinding(t, CounterOptions{IncField: utils.ToPtr("Sequence")}, host.store)
		err := binding.Attach(host.db, &invoice{})
		require.Error(t, err)
		assert.True(t, IsSchemaError(err))
		assert.ErrorIs(t, err, ErrFieldNotDeclared)
	})

	t.Run("non numeric field", func(t *testing.T) {
		binding := mustBinding(t, CounterOptions{IncField: utils.ToPtr("Number")}, host.store)
		err := binding.Attach(host.db, &taggedInvoice{})
		require.Error(t, err)
		assert.True(t, IsFieldNotNumeric(err))
	})
}
