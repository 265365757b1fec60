package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/counterseq/app/dto"
	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentFlow(t *testing.T) {
	host := newSQLiteHost(t, "counters")
	binding := mustBinding(t, CounterOptions{
		ID:              "ticket_no",
		IncField:        utils.ToPtr("number"),
		ReferenceFields: models.FieldList{"queue"},
	}, host.store)
	host.docs.Use(binding.Hook("tickets"))

	flow := NewDocumentFlow(host.docs)
	ctx := context.Background()

	created, err := flow.Create(ctx, &dto.SaveDocumentRequest{Collection: "tickets", Fields: map[string]any{"queue": "billing"}}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Fields["number"])

	second, err := flow.Create(ctx, &dto.SaveDocumentRequest{Collection: "tickets", Fields: map[string]any{"queue": "billing"}}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.Fields["number"])

	t.Run("update merges fields and keeps the number", func(t *testing.T) {
		updated, err := flow.Update(ctx, &dto.SaveDocumentRequest{
			Collection: "tickets",
			UUID:       created.UUID,
			Fields:     map[string]any{"status": "closed"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "closed", updated.Fields["status"])
		assert.EqualValues(t, 1, updated.Fields["number"])

		got, err := flow.Get(ctx, "tickets", created.UUID)
		require.NoError(t, err)
		assert.Equal(t, "closed", got.Fields["status"])
		assert.EqualValues(t, 1, got.Fields["number"])
	})

	t.Run("documents of other collections are not numbered", func(t *testing.T) {
		note, err := flow.Create(ctx, &dto.SaveDocumentRequest{Collection: "notes", Fields: map[string]any{"queue": "billing"}}, nil)
		require.NoError(t, err)
		_, ok := note.Fields["number"]
		assert.False(t, ok)
	})

	t.Run("not found and bad input", func(t *testing.T) {
		_, err := flow.Get(ctx, "tickets", uuid.NewString())
		assert.True(t, IsNotFound(err))

		_, err = flow.Get(ctx, "notes", created.UUID)
		assert.True(t, IsNotFound(err))

		_, err = flow.Get(ctx, "tickets", "not-a-uuid")
		assert.True(t, IsValidationError(err))

		_, err = flow.Create(ctx, &dto.SaveDocumentRequest{Collection: " "}, nil)
		assert.True(t, IsValidationError(err))
	})
}
