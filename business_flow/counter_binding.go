package businessflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/repository"
	"github.com/go-playground/validator/v10"
)

var sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var optionsValidator = newOptionsValidator()

func newOptionsValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("sql_identifier", func(fl validator.FieldLevel) bool {
		return sqlIdentifier.MatchString(fl.Field().String())
	})
	return v
}

// CounterOptions is the counter setup as supplied by callers.
// A nil IncField means "use the primary identity field"; an explicit blank one is rejected.
type CounterOptions struct {
	ID              string           `json:"id" validate:"max=128"`
	IncField        *string          `json:"inc_field,omitempty"`
	ReferenceFields models.FieldList `json:"reference_fields,omitempty"`
	CollectionName  string           `json:"collection_name" validate:"omitempty,max=63,sql_identifier"`
}

// CounterConfig is a validated, immutable counter configuration
type CounterConfig struct {
	scopeID         string
	incField        string
	referenceFields []string
	collection      string
}

func (c *CounterConfig) ScopeID() string    { return c.scopeID }
func (c *CounterConfig) IncField() string   { return c.incField }
func (c *CounterConfig) Collection() string { return c.collection }

// ReferenceFields returns a copy of the ordered reference field names
func (c *CounterConfig) ReferenceFields() []string {
	out := make([]string, len(c.referenceFields))
	copy(out, c.referenceFields)
	return out
}

// Scoped reports whether counters are partitioned by reference fields
func (c *CounterConfig) Scoped() bool {
	return len(c.referenceFields) > 0
}

// Configure validates options and applies defaults. It never touches storage.
func Configure(opts CounterOptions) (*CounterConfig, error) {
	if err := optionsValidator.Struct(&opts); err != nil {
		cause := ErrInvalidOptions
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				if fe.Field() == "CollectionName" {
					cause = ErrInvalidCollectionName
				}
			}
		}
		return nil, NewBusinessError(CodeConfigurationError, "Invalid counter options", fmt.Errorf("%w: %v", cause, err))
	}

	incField := models.DefaultIncrementField
	if opts.IncField != nil {
		incField = strings.TrimSpace(*opts.IncField)
		if incField == "" {
			return nil, NewBusinessError(CodeConfigurationError, "Increment field is required", ErrIncFieldRequired)
		}
	}

	fields := make([]string, 0, len(opts.ReferenceFields))
	seen := make(map[string]struct{}, len(opts.ReferenceFields))
	for _, raw := range opts.ReferenceFields {
		field := strings.TrimSpace(raw)
		if field == "" {
			return nil, NewBusinessError(CodeConfigurationError, "Reference field name is empty", ErrInvalidReferenceField)
		}
		if _, dup := seen[field]; dup {
			return nil, NewBusinessErrorf(CodeConfigurationError, "Reference field %s is listed twice", ErrInvalidReferenceField, field)
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}

	scopeID := strings.TrimSpace(opts.ID)
	if len(fields) > 0 && scopeID == "" {
		return nil, NewBusinessError(CodeConfigurationError, "Counter id is required for scoped counters", ErrScopeIDRequired)
	}
	if scopeID == "" {
		scopeID = incField
	}

	collection := strings.TrimSpace(opts.CollectionName)
	if collection == "" {
		collection = models.DefaultCounterCollection
	}

	return &CounterConfig{
		scopeID:         scopeID,
		incField:        incField,
		referenceFields: fields,
		collection:      collection,
	}, nil
}

// CounterBinding ties a record schema to a counter store: it allocates on create and exposes reset
type CounterBinding struct {
	cfg   *CounterConfig
	store repository.CounterRepository
}

// NewCounterBinding creates a binding; the store's collection should match cfg.Collection()
func NewCounterBinding(cfg *CounterConfig, store repository.CounterRepository) (*CounterBinding, error) {
	if cfg == nil {
		return nil, NewBusinessError(CodeConfigurationError, "Counter binding needs a configuration", ErrBindingNotConfigured)
	}
	if store == nil {
		return nil, NewBusinessError(CodeConfigurationError, "Counter binding needs a store", ErrCounterStoreMissing)
	}
	return &CounterBinding{cfg: cfg, store: store}, nil
}

func (b *CounterBinding) Config() *CounterConfig { return b.cfg }

// EnsureField declares the increment field as numeric when the schema lacks it and
// rejects a schema that already declares it with another type.
func (b *CounterBinding) EnsureField(schema models.Schema) error {
	name := b.cfg.incField
	kind, ok := schema.FieldKind(name)
	if !ok {
		if err := schema.DeclareField(name, models.FieldKindNumber); err != nil {
			return NewBusinessErrorf(CodeSchemaError, "Cannot declare increment field %s", fmt.Errorf("%w: %v", ErrFieldNotDeclared, err), name)
		}
		return nil
	}
	if kind != models.FieldKindNumber {
		return NewBusinessErrorf(CodeSchemaError, "Increment field %s is declared as %s", ErrFieldNotNumeric, name, kind)
	}
	return nil
}

// DeriveReferenceKey reads the reference fields from the in-memory record.
// Global counters have no key; missing or nil values become "".
func (b *CounterBinding) DeriveReferenceKey(rec models.Record) models.ReferenceKey {
	if !b.cfg.Scoped() {
		return nil
	}
	key := make(models.ReferenceKey, len(b.cfg.referenceFields))
	for _, field := range b.cfg.referenceFields {
		v, ok := rec.Field(field)
		key[field] = referenceValue(v, ok)
	}
	return key
}

func referenceValue(v any, ok bool) string {
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// BeforeCreate allocates the next value for the record's key and writes it into the increment field.
// Any error means the record must not be persisted.
func (b *CounterBinding) BeforeCreate(ctx context.Context, rec models.Record) (models.Record, error) {
	ref := b.DeriveReferenceKey(rec)
	value, err := b.store.Allocate(ctx, b.cfg.scopeID, ref)
	if err != nil {
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to allocate %s", err, b.cfg.scopeID)
	}
	if err := rec.SetField(b.cfg.incField, value); err != nil {
		return nil, NewBusinessErrorf(CodeSchemaError, "Failed to assign %s", err, b.cfg.incField)
	}
	return rec, nil
}

// BeforeSave is the host hook: it allocates only for OperationCreate, never for updates
func (b *CounterBinding) BeforeSave(ctx context.Context, event *models.LifecycleEvent) error {
	if event == nil || event.Operation != models.OperationCreate {
		return nil
	}
	_, err := b.BeforeCreate(ctx, event.Record)
	return err
}

// Hook returns a BeforeSaveHook that only fires for documents of the given collection
func (b *CounterBinding) Hook(collection string) models.BeforeSaveHook {
	return models.BeforeSaveFunc(func(ctx context.Context, event *models.LifecycleEvent) error {
		if event == nil || event.Collection != collection {
			return nil
		}
		return b.BeforeSave(ctx, event)
	})
}

// Reset zeroes the counters of scopeID matching ref (subset match); a blank scopeID means the binding's own scope
func (b *CounterBinding) Reset(ctx context.Context, scopeID string, ref models.ReferenceKey) error {
	if strings.TrimSpace(scopeID) == "" {
		scopeID = b.cfg.scopeID
	}
	if _, err := b.store.Reset(ctx, scopeID, ref); err != nil {
		return NewBusinessErrorf(CodeStorageError, "Failed to reset %s", err, scopeID)
	}
	return nil
}
