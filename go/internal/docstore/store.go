// Package docstore is the hosted document store the board synchronizes
// against: keyed JSON documents with merge-writes and change subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// Document is a JSON object keyed by top-level field
type Document map[string]json.RawMessage

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store contract. Implementations make no
// multi-document atomicity guarantees and writes carry no version token.
type Store interface {
	// Get returns the document or ErrNotFound
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes the document. With Merge only the given top-level fields are replaced.
	Set(ctx context.Context, collection, id string, data Document, opts ...SetOption) error
	// Subscribe calls fn with the current document (when it exists) and then on every change
	Subscribe(ctx context.Context, collection, id string, fn func(Document)) (Unsubscribe, error)
	// List returns every document in a collection keyed by id
	List(ctx context.Context, collection string) (map[string]Document, error)
}

// SetOptions controls a write
type SetOptions struct {
	Merge bool
}

// SetOption configures a write
type SetOption func(*SetOptions)

// Merge makes Set replace only the fields present in data
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ApplySetOptions folds opts into SetOptions
func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Encode converts a struct into a Document
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return doc, nil
}

// Decode converts a Document into v
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Field builds a single-field document, handy for merge-writes
func Field(name string, v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal field %s: %w", name, err)
	}
	return Document{name: data}, nil
}

// MergeInto returns base with the fields of patch applied on top
func MergeInto(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Clone copies a document so callers cannot alias stored bytes
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		b := make(json.RawMessage, len(v))
		copy(b, v)
		out[k] = b
	}
	return out
}
