package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no document matches the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable wraps infrastructure failures (connectivity, timeouts).
	ErrUnavailable = errors.New("document store unavailable")
)

// Op is a filter comparison operator.
type Op uint8

const (
	// OpEq matches documents whose field equals the filter value.
	// A nil value matches documents where the field is null or absent.
	OpEq Op = iota
	// OpLt matches documents whose field is strictly less than the value.
	OpLt
	// OpLte matches documents whose field is less than or equal to the value.
	OpLte
	// OpGt matches documents whose field is strictly greater than the value.
	OpGt
	// OpGte matches documents whose field is greater than or equal to the value.
	OpGte
)

// Filter is a single field comparison applied to a query.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query describes a filtered, ordered, bounded scan over a collection.
// A zero Query matches every document.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int64
	Offset  int64
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Collection is a document collection keyed by an opaque string id.
// Documents are encoded/decoded through their bson tags so the same
// model works against both backends.
type Collection interface {
	// Get decodes the document with the given id into out.
	// Returns ErrNotFound when no such document exists.
	Get(ctx context.Context, id string, out any) error
	// Set stores doc under id, replacing any existing document.
	Set(ctx context.Context, id string, doc any) error
	// Update applies a partial field update to the document with the
	// given id. Returns ErrNotFound when no such document exists.
	Update(ctx context.Context, id string, fields map[string]any) error
	// UpdateMany applies a partial field update to every document
	// matching q and returns the number of documents modified.
	UpdateMany(ctx context.Context, q Query, fields map[string]any) (int64, error)
	// Delete removes the document with the given id. Deleting a
	// missing document is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteMany removes every document matching q and returns the
	// number removed.
	DeleteMany(ctx context.Context, q Query) (int64, error)
	// Find decodes all documents matching q into out, which must be a
	// pointer to a slice.
	Find(ctx context.Context, q Query, out any) error
	// FindOne decodes the first document matching q into out.
	// Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, q Query, out any) error
}

// Store hands out named collections. Implementations are safe for
// concurrent use.
type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
