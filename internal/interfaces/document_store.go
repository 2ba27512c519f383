package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// Collections used by the service
const (
	CollectionStories  = "stories"
	CollectionProgress = "progress"
	CollectionUsers    = "users"
)

// Field names that map to store columns instead of the JSON body
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
)

// Condition is an equality match on one document field
type Condition struct {
	Field string
	Value any
}

// Filter is a conjunction of equality conditions
type Filter []Condition

// Where builds a single-condition filter
func Where(field string, value any) Filter {
	return Filter{{Field: field, Value: value}}
}

// And appends a condition
func (f Filter) And(field string, value any) Filter {
	return append(f, Condition{Field: field, Value: value})
}

// OrderBy selects the sort order of a query
type OrderBy struct {
	Field string
	Desc  bool
}

// NewestFirst orders by insertion time, most recent first
var NewestFirst = OrderBy{Field: FieldCreatedAt, Desc: true}

// Document is a stored record
type Document struct {
	ID        string
	Body      json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the body into v
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// DocumentStore persists JSON records into named collections
type DocumentStore interface {
	// Save stores record and returns the assigned id
	Save(ctx context.Context, collection string, record any) (string, error)

	// Query returns documents matching filter, ordered, up to limit (0 = no limit)
	Query(ctx context.Context, collection string, filter Filter, order OrderBy, limit int) ([]Document, error)

	Close() error
}
