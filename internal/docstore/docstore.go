// Package docstore abstracts the document database holding portfolios,
// users and per-market metadata documents.
//
// Mutations address fields by path segments, never by dotted strings, so
// market ids containing separators are safe as map keys. Sentinel values
// (Delete, Increment, ArrayUnion) mirror the primitives of the backing
// store and are translated by each implementation.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing document.
var ErrNotFound = errors.New("document not found")

// Update is one field mutation within a document.
type Update struct {
	Path  []string
	Value any
}

type deleteMarker struct{}

// Delete removes the addressed field.
var Delete any = deleteMarker{}

type incrementMarker struct{ delta float64 }

// Increment atomically adds delta to a numeric field, treating a missing
// field as zero.
func Increment(delta float64) any { return incrementMarker{delta: delta} }

type arrayUnionMarker struct{ elems []any }

// ArrayUnion appends the given elements to an array field, skipping
// elements already present.
func ArrayUnion(elems ...any) any { return arrayUnionMarker{elems: elems} }

// Store is the document-store surface. Implementations must be safe for
// concurrent use. Documents are plain JSON-shaped maps: numbers are
// float64, arrays are []any.
type Store interface {
	// Get loads one document. Missing documents return ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	// Add creates a document under a fresh id and returns the id.
	Add(ctx context.Context, collection string, doc map[string]any) (string, error)
	// Merge writes fields into a document, creating it when absent.
	Merge(ctx context.Context, collection, id string, doc map[string]any) error
	// Update applies field mutations to an existing document.
	Update(ctx context.Context, collection, id string, updates []Update) error
	// BatchUpdate applies per-document mutations in one backend batch.
	// Callers are responsible for respecting the backend's batch size limit.
	BatchUpdate(ctx context.Context, collection string, docs map[string][]Update) error
	// Stream visits every document in a collection. Returning an error from
	// fn stops the stream and propagates.
	Stream(ctx context.Context, collection string, fn func(id string, doc map[string]any) error) error
	Close() error
}
