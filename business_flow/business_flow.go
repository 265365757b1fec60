// Package businessflow contains the business logic for the application.
package businessflow

import (
	"github.com/amirphl/counterseq/app/dto"
	"github.com/amirphl/counterseq/models"
)

// ClientMetadata holds client information for audit logging of admin operations
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToCounterDTO converts a counter model to its API form
func ToCounterDTO(counter *models.Counter) *dto.CounterDTO {
	out := &dto.CounterDTO{
		ScopeID:   counter.ScopeID,
		Reference: counter.Reference,
		Seq:       counter.Value,
	}
	if !counter.UpdatedAt.IsZero() {
		updated := counter.UpdatedAt.UTC()
		out.UpdatedAt = &updated
	}
	return out
}
