package businessflow

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// gormSchema exposes a parsed GORM model as a models.Schema. Struct fields cannot be added at runtime.
type gormSchema struct {
	s *schema.Schema
}

func (g gormSchema) FieldKind(name string) (models.FieldKind, bool) {
	f := g.s.LookUpField(name)
	if f == nil {
		return "", false
	}
	switch f.DataType {
	case schema.Int, schema.Uint, schema.Float:
		return models.FieldKindNumber, true
	case schema.String:
		return models.FieldKindString, true
	case schema.Bool:
		return models.FieldKindBool, true
	case schema.Time:
		return models.FieldKindTime, true
	case "":
		return models.FieldKindUnknown, true
	default:
		return models.FieldKindObject, true
	}
}

func (g gormSchema) DeclareField(name string, kind models.FieldKind) error {
	return fmt.Errorf("model %s has no field %s, add a %s field to the struct", g.s.Name, name, kind)
}

func (g gormSchema) PrimaryField() string {
	if g.s.PrioritizedPrimaryField != nil {
		return g.s.PrioritizedPrimaryField.DBName
	}
	return models.DefaultIncrementField
}

// gormRecord is one model value inside a GORM statement
type gormRecord struct {
	ctx context.Context
	s   *schema.Schema
	rv  reflect.Value
}

func (r gormRecord) Field(name string) (any, bool) {
	f := r.s.LookUpField(name)
	if f == nil {
		return nil, false
	}
	v, _ := f.ValueOf(r.ctx, r.rv)
	if pv := reflect.ValueOf(v); pv.Kind() == reflect.Ptr {
		if pv.IsNil() {
			return nil, true
		}
		return pv.Elem().Interface(), true
	}
	return v, true
}

func (r gormRecord) SetField(name string, value any) error {
	f := r.s.LookUpField(name)
	if f == nil {
		return fmt.Errorf("model %s has no field %s", r.s.Name, name)
	}
	return f.Set(r.ctx, r.rv, value)
}

// Attach wires the binding into GORM's create chain for model's table.
// Updates go through the update chain and never allocate.
func (b *CounterBinding) Attach(db *gorm.DB, model any) error {
	sch, err := schema.Parse(model, &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return NewBusinessError(CodeConfigurationError, "Failed to parse model", err)
	}
	if err := b.EnsureField(gormSchema{s: sch}); err != nil {
		return err
	}

	name := fmt.Sprintf("counterseq:%s:%s:%s", sch.Table, b.cfg.scopeID, b.cfg.incField)
	if err := db.Callback().Create().Before("gorm:create").Register(name, b.gormCreateCallback(sch.Table)); err != nil {
		return NewBusinessError(CodeConfigurationError, "Failed to register create callback", err)
	}

	log.Printf("Counter %s attached to %s.%s", b.cfg.scopeID, sch.Table, b.cfg.incField)
	return nil
}

func (b *CounterBinding) gormCreateCallback(table string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Schema == nil || tx.Statement.Table != table {
			return
		}

		// Allocate on the statement's own connection so the counter commits or rolls back with the row
		ctx := repository.ContextWithTx(tx.Statement.Context, tx.Session(&gorm.Session{NewDB: true}))
		sch := tx.Statement.Schema

		rv := tx.Statement.ReflectValue
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				rec := gormRecord{ctx: ctx, s: sch, rv: reflect.Indirect(rv.Index(i))}
				if _, err := b.BeforeCreate(ctx, rec); err != nil {
					_ = tx.AddError(err)
					return
				}
			}
		case reflect.Struct:
			if _, err := b.BeforeCreate(ctx, gormRecord{ctx: ctx, s: sch, rv: rv}); err != nil {
				_ = tx.AddError(err)
			}
		}
	}
}
