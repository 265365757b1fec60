package dto

import "time"

// DocumentDTO is a stored document in API responses
type DocumentDTO struct {
	UUID       string         `json:"uuid"`
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SaveDocumentRequest carries the body of a document create or update
type SaveDocumentRequest struct {
	Collection string         `json:"-" validate:"required,max=128"`
	UUID       string         `json:"-" validate:"omitempty,uuid"`
	Fields     map[string]any `json:"fields" validate:"required"`
}
