package models

import "context"

// Operation tags a persistence lifecycle event with the kind of write about to happen
type Operation int

const (
	// OperationCreate is a record transitioning from non-existent to persisted
	OperationCreate Operation = iota + 1
	// OperationUpdate is a write to an already persisted record
	OperationUpdate
)

func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// FieldKind is the declared type of a record field
type FieldKind string

const (
	FieldKindNumber  FieldKind = "number"
	FieldKindString  FieldKind = "string"
	FieldKindBool    FieldKind = "bool"
	FieldKindTime    FieldKind = "time"
	FieldKindObject  FieldKind = "object"
	FieldKindUnknown FieldKind = "unknown"
)

// Record is the in-memory view of a record the host is about to persist
type Record interface {
	Field(name string) (any, bool)
	SetField(name string, value any) error
}

// Schema describes the fields a host collection declares
type Schema interface {
	FieldKind(name string) (FieldKind, bool)
	DeclareField(name string, kind FieldKind) error
	PrimaryField() string
}

// LifecycleEvent is raised by the host before a record is written
type LifecycleEvent struct {
	Operation  Operation
	Collection string
	Record     Record
}

// BeforeSaveHook intercepts writes; returning an error aborts the pending write
type BeforeSaveHook interface {
	BeforeSave(ctx context.Context, event *LifecycleEvent) error
}

// BeforeSaveFunc adapts a function to BeforeSaveHook
type BeforeSaveFunc func(ctx context.Context, event *LifecycleEvent) error

func (f BeforeSaveFunc) BeforeSave(ctx context.Context, event *LifecycleEvent) error {
	return f(ctx, event)
}
