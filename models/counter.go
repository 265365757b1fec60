// Package models contains domain entities for counters and the documents that consume them
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultCounterCollection is the table holding counter rows when no collection is configured
	DefaultCounterCollection = "counters"

	// DefaultIncrementField is the primary identity field that receives the counter by default
	DefaultIncrementField = "id"
)

// Counter stores the current value of one sequence, identified by scope and reference key.
// Global counters carry an empty ReferenceKey so the (scope_id, reference_key) uniqueness also holds for them.
type Counter struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	ScopeID      string       `gorm:"size:128;not null" json:"scope_id"`
	ReferenceKey string       `gorm:"size:1024;not null" json:"-"`
	Reference    ReferenceKey `gorm:"type:text;serializer:json" json:"reference,omitempty"`
	Value        int64        `gorm:"column:seq;not null" json:"seq"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (Counter) TableName() string { return DefaultCounterCollection }

// CounterFilter represents filter criteria for counter queries
type CounterFilter struct {
	ID            *uint
	ScopeID       *string
	ReferenceKey  *string
	MinValue      *int64
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
}

// ReferenceKey maps each reference field name to its value at record-creation time
type ReferenceKey map[string]string

// Canonical returns the storage form of the key: "" for an empty key, otherwise a JSON object with sorted keys.
func (k ReferenceKey) Canonical() string {
	if len(k) == 0 {
		return ""
	}
	// encoding/json writes map keys in sorted order
	b, err := json.Marshal(map[string]string(k))
	if err != nil {
		return ""
	}
	return string(b)
}

// Matches reports whether every field/value pair of partial is present in k.
// An empty partial matches every key.
func (k ReferenceKey) Matches(partial ReferenceKey) bool {
	for field, value := range partial {
		v, ok := k[field]
		if !ok || v != value {
			return false
		}
	}
	return true
}

// IsGlobal reports whether the key addresses an unscoped counter
func (k ReferenceKey) IsGlobal() bool {
	return len(k) == 0
}

// ParseReferenceKey decodes the canonical form produced by ReferenceKey.Canonical
func ParseReferenceKey(canonical string) (ReferenceKey, error) {
	if strings.TrimSpace(canonical) == "" {
		return nil, nil
	}
	var key ReferenceKey
	if err := json.Unmarshal([]byte(canonical), &key); err != nil {
		return nil, fmt.Errorf("invalid reference key %q: %w", canonical, err)
	}
	return key, nil
}

// FieldList is an ordered list of field names.
// It decodes from a JSON string ("city" or "country,city") as well as from a JSON array.
type FieldList []string

// ParseFieldList splits a comma separated list, trimming blanks
func ParseFieldList(raw string) FieldList {
	var out FieldList
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (l *FieldList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = ParseFieldList(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("field list must be a string or an array of strings: %w", err)
	}
	*l = FieldList(many)
	return nil
}
