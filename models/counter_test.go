package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceKeyCanonical(t *testing.T) {
	t.Run("empty key is global", func(t *testing.T) {
		assert.Equal(t, "", ReferenceKey(nil).Canonical())
		assert.Equal(t, "", ReferenceKey{}.Canonical())
		assert.True(t, ReferenceKey{}.IsGlobal())
	})

	t.Run("insertion order does not matter", func(t *testing.T) {
		a := ReferenceKey{"country": "FR", "city": "Paris"}
		b := ReferenceKey{}
		b["city"] = "Paris"
		b["country"] = "FR"
		assert.Equal(t, a.Canonical(), b.Canonical())
		assert.Equal(t, `{"city":"Paris","country":"FR"}`, a.Canonical())
	})

	t.Run("round trip through ParseReferenceKey", func(t *testing.T) {
		key := ReferenceKey{"country": "US", "city": "NYC"}
		parsed, err := ParseReferenceKey(key.Canonical())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)

		parsed, err = ParseReferenceKey("")
		require.NoError(t, err)
		assert.Nil(t, parsed)

		_, err = ParseReferenceKey("{not json")
		assert.Error(t, err)
	})
}

func TestReferenceKeyMatches(t *testing.T) {
	stored := ReferenceKey{"country": "FR", "city": "Paris"}

	tests := []struct {
		name    string
		partial ReferenceKey
		want    bool
	}{
		{"empty partial matches everything", nil, true},
		{"exact key", ReferenceKey{"country": "FR", "city": "Paris"}, true},
		{"subset", ReferenceKey{"country": "FR"}, true},
		{"different value", ReferenceKey{"country": "US"}, false},
		{"unknown field", ReferenceKey{"region": "IDF"}, false},
		{"superset", ReferenceKey{"country": "FR", "city": "Paris", "zip": "75001"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stored.Matches(tt.partial))
		})
	}
}

func TestFieldList(t *testing.T) {
	assert.Equal(t, FieldList{"country", "city"}, ParseFieldList(" country , city ,"))
	assert.Nil(t, ParseFieldList(""))

	var fromString FieldList
	require.NoError(t, json.Unmarshal([]byte(`"city"`), &fromString))
	assert.Equal(t, FieldList{"city"}, fromString)

	var fromArray FieldList
	require.NoError(t, json.Unmarshal([]byte(`["country","city"]`), &fromArray))
	assert.Equal(t, FieldList{"country", "city"}, fromArray)

	var bad FieldList
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestDocumentFields(t *testing.T) {
	doc := NewDocument("orders", nil)
	assert.True(t, doc.IsNew())
	assert.NotEqual(t, [16]byte{}, [16]byte(doc.UUID))

	_, ok := doc.Field("id")
	assert.False(t, ok)

	require.NoError(t, doc.SetField("id", int64(7)))
	n, ok := doc.Int64Field("id")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	// values decoded from JSON arrive as float64
	doc.Fields["seq"] = float64(12)
	n, ok = doc.Int64Field("seq")
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	doc.Fields["name"] = "x"
	_, ok = doc.Int64Field("name")
	assert.False(t, ok)

	assert.Error(t, doc.SetField(" ", 1))
}

func TestDocumentSchema(t *testing.T) {
	schema := NewDocumentSchema("orders", map[string]FieldKind{"title": FieldKindString})
	assert.Equal(t, "orders", schema.Name())
	assert.Equal(t, DefaultIncrementField, schema.PrimaryField())

	kind, ok := schema.FieldKind("title")
	assert.True(t, ok)
	assert.Equal(t, FieldKindString, kind)

	require.NoError(t, schema.DeclareField("number", FieldKindNumber))
	require.NoError(t, schema.DeclareField("number", FieldKindNumber))
	assert.Error(t, schema.DeclareField("title", FieldKindNumber))
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "create", OperationCreate.String())
	assert.Equal(t, "update", OperationUpdate.String())
}
