package utils

import (
	"time"
)

// Request-scoped context keys set by HTTP handlers
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserAgentKey ContextKey = "user_agent"
	IPAddressKey ContextKey = "ip_address"
	EndpointKey  ContextKey = "endpoint"
	TimeoutKey   ContextKey = "timeout"
)

const (
	// DefaultRequestTimeout bounds the storage calls made on behalf of one HTTP request
	DefaultRequestTimeout = 30 * time.Second

	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400

	// APIKeyHeader carries the admin API key
	APIKeyHeader = "X-API-Key"
)
