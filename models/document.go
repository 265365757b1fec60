package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Document is a schemaless record stored in a named collection
type Document struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	UUID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_documents_uuid" json:"uuid"`
	Collection string         `gorm:"size:128;not null;index:idx_documents_collection" json:"collection"`
	Fields     map[string]any `gorm:"column:body;type:text;serializer:json" json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// DocumentFilter represents filter criteria for document queries
type DocumentFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	Collection    *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// NewDocument creates an unpersisted document for the given collection
func NewDocument(collection string, fields map[string]any) *Document {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Document{
		UUID:       uuid.New(),
		Collection: collection,
		Fields:     fields,
	}
}

// IsNew reports whether the document has never been persisted
func (d *Document) IsNew() bool {
	return d.ID == 0
}

func (d *Document) Field(name string) (any, bool) {
	if d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[name]
	return v, ok
}

func (d *Document) SetField(name string, value any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("field name is required")
	}
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[name] = value
	return nil
}

// Int64Field returns a numeric field as int64. JSON round trips turn numbers into float64.
func (d *Document) Int64Field(name string) (int64, bool) {
	v, ok := d.Field(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// DocumentSchema declares the fields of a document collection and can grow at setup time
type DocumentSchema struct {
	name    string
	primary string

	mu     sync.RWMutex
	fields map[string]FieldKind
}

// NewDocumentSchema creates a schema whose primary field is DefaultIncrementField
func NewDocumentSchema(name string, fields map[string]FieldKind) *DocumentSchema {
	s := &DocumentSchema{
		name:    name,
		primary: DefaultIncrementField,
		fields:  make(map[string]FieldKind, len(fields)),
	}
	for k, v := range fields {
		s.fields[k] = v
	}
	return s
}

func (s *DocumentSchema) Name() string { return s.name }

func (s *DocumentSchema) PrimaryField() string { return s.primary }

func (s *DocumentSchema) FieldKind(name string) (FieldKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, ok := s.fields[name]
	return kind, ok
}

func (s *DocumentSchema) DeclareField(name string, kind FieldKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fields[name]; ok && existing != kind {
		return fmt.Errorf("field %s already declared as %s", name, existing)
	}
	s.fields[name] = kind
	return nil
}
