package dto

import "time"

// CounterDTO is one counter row in API responses
type CounterDTO struct {
	ScopeID   string            `json:"scope_id"`
	Reference map[string]string `json:"reference,omitempty"`
	Seq       int64             `json:"seq"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// ListCountersResponse lists every counter of a scope
type ListCountersResponse struct {
	ScopeID  string        `json:"scope_id"`
	Counters []*CounterDTO `json:"counters"`
	Total    int           `json:"total"`
}

// CounterKeyRequest addresses one counter; an empty reference addresses the scope's global counter
type CounterKeyRequest struct {
	ScopeID   string            `json:"-" validate:"required,max=128"`
	Reference map[string]string `json:"reference,omitempty" validate:"omitempty,dive,keys,required,max=128,endkeys,max=512"`
}

// AllocateCounterResponse carries a manually allocated value
type AllocateCounterResponse struct {
	ScopeID   string            `json:"scope_id"`
	Reference map[string]string `json:"reference,omitempty"`
	Seq       int64             `json:"seq"`
}

// ResetCounterRequest resets every counter of the scope whose reference contains all given pairs
type ResetCounterRequest struct {
	ScopeID   string            `json:"-" validate:"required,max=128"`
	Reference map[string]string `json:"reference,omitempty" validate:"omitempty,dive,keys,required,max=128,endkeys,max=512"`
}

// ResetCounterResponse reports how many counters were reset
type ResetCounterResponse struct {
	ScopeID string `json:"scope_id"`
	Reset   int64  `json:"reset"`
}
