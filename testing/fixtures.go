package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/utils"
	"gorm.io/gorm"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *gorm.DB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *gorm.DB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// InsertRawDocument stores a document without running any hooks, as if it predates the counter
func (tf *TestFixtures) InsertRawDocument(collection string, fields map[string]any) (*models.Document, error) {
	doc := models.NewDocument(collection, fields)
	now := utils.UTCNow()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := tf.DB.Create(doc).Error; err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return doc, nil
}

// UniqueCollectionName returns a SQL-safe table name that does not collide across tests
func UniqueCollectionName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), rand.Intn(10000))
}

// LocationFields builds the fields of a document referenced by country and city
func LocationFields(country, city string) map[string]any {
	return map[string]any{
		"country": country,
		"city":    city,
	}
}
