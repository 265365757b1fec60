// Package businessflow contains counter configuration, allocation and administration logic
package businessflow

import (
	"errors"
	"fmt"

	"github.com/amirphl/counterseq/repository"
)

// Error codes carried by BusinessError
const (
	CodeConfigurationError = "CONFIGURATION_ERROR"
	CodeSchemaError        = "SCHEMA_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
)

// Business flow error constants
var (
	// Configuration errors
	ErrIncFieldRequired      = errors.New("increment field is required")
	ErrScopeIDRequired       = errors.New("counter id is required when reference fields are set")
	ErrInvalidOptions        = errors.New("counter options are invalid")
	ErrInvalidCollectionName = errors.New("collection name must be a valid SQL identifier")
	ErrInvalidReferenceField = errors.New("reference field names must be non-empty and unique")
	ErrBindingNotConfigured  = errors.New("counter binding is not configured")
	ErrCounterStoreMissing   = errors.New("counter store is required")

	// Schema errors
	ErrFieldNotNumeric  = errors.New("increment field is already declared with a non-numeric type")
	ErrFieldNotDeclared = errors.New("increment field is not declared and the schema cannot declare it")

	// Admin errors
	ErrScopeRequired      = errors.New("scope is required")
	ErrCollectionRequired = errors.New("collection is required")
	ErrDocumentNotFound   = errors.New("document not found")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func hasCode(err error, code string) bool {
	var be *BusinessError
	for err != nil {
		if !errors.As(err, &be) {
			return false
		}
		if be.Code == code {
			return true
		}
		err = be.Err
	}
	return false
}

// IsConfigurationError reports an invalid counter setup
func IsConfigurationError(err error) bool {
	return hasCode(err, CodeConfigurationError)
}

// IsSchemaError reports an increment field that cannot hold a counter
func IsSchemaError(err error) bool {
	return hasCode(err, CodeSchemaError)
}

// IsStorageError reports a failed call to the counter store
func IsStorageError(err error) bool {
	return hasCode(err, CodeStorageError) || repository.IsStorageError(err)
}

func IsValidationError(err error) bool {
	return hasCode(err, CodeValidationError)
}

func IsScopeIDRequired(err error) bool {
	return errors.Is(err, ErrScopeIDRequired)
}

func IsIncFieldRequired(err error) bool {
	return errors.Is(err, ErrIncFieldRequired)
}

func IsFieldNotNumeric(err error) bool {
	return errors.Is(err, ErrFieldNotNumeric)
}

func IsScopeRequired(err error) bool {
	return errors.Is(err, ErrScopeRequired)
}

func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}
