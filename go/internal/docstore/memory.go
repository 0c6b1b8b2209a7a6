package docstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Memory is an in-process Store used for development and tests
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string]Document
	fanout *Fanout
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]map[string]Document),
		fanout: NewFanout(),
	}
}

// Get returns a copy of the stored document
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Set writes the document and notifies subscribers
func (m *Memory) Set(ctx context.Context, collection, id string, data Document, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := ApplySetOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]Document)
	}
	next := data.Clone()
	if existing, ok := m.docs[collection][id]; ok && o.Merge {
		next = MergeInto(existing, next)
	}
	if next == nil {
		next = Document{}
	}
	m.docs[collection][id] = next

	// published under the write lock so subscribers see writes in order
	count := m.fanout.Publish(Key(collection, id), next)

	log.Debug().
		Str("collection", collection).
		Str("doc_id", id).
		Bool("merge", o.Merge).
		Int("subscribers", count).
		Msg("document written")
	return nil
}

// Subscribe delivers the current document and every later write
func (m *Memory) Subscribe(ctx context.Context, collection, id string, fn func(Document)) (Unsubscribe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	initial := m.docs[collection][id]
	return m.fanout.Add(ctx, Key(collection, id), initial, fn), nil
}

// List returns copies of every document in the collection
func (m *Memory) List(ctx context.Context, collection string) (map[string]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Document, len(m.docs[collection]))
	for id, doc := range m.docs[collection] {
		out[id] = doc.Clone()
	}
	return out, nil
}
