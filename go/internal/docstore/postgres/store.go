package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

const (
	selectDoc  = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	selectList = `SELECT id, data FROM documents WHERE collection = $1`
	upsertDoc  = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	mergeDoc = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`
)

// Store implements docstore.Store on a documents table.
// Subscriptions are fed by a Listener calling Notify and Poll.
type Store struct {
	db     *DB
	fanout *docstore.Fanout

	mu   sync.Mutex
	last map[string]string
}

// NewStore creates a Postgres backed document store
func NewStore(db *DB) *Store {
	return &Store{
		db:     db,
		fanout: docstore.NewFanout(),
		last:   make(map[string]string),
	}
}

var _ docstore.Store = (*Store)(nil)

// Get loads a single document
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx, selectDoc, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Set writes a document. With docstore.Merge the top-level fields are merged with jsonb ||.
func (s *Store) Set(ctx context.Context, collection, id string, data docstore.Document, opts ...docstore.SetOption) error {
	if data == nil {
		data = docstore.Document{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := upsertDoc
	if docstore.ApplySetOptions(opts).Merge {
		query = mergeDoc
	}
	if _, err := s.db.Pool.Exec(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", collection, id, err)
	}
	return nil
}

// List returns every document in a collection
func (s *Store) List(ctx context.Context, collection string) (map[string]docstore.Document, error) {
	rows, err := s.db.Pool.Query(ctx, selectList, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	out := make(map[string]docstore.Document)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc docstore.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
		}
		out[id] = doc
	}
	return out, rows.Err()
}

// Subscribe delivers the current document, then whatever the listener reports for it
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn func(docstore.Document)) (docstore.Unsubscribe, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	key := docstore.Key(collection, id)
	if doc != nil {
		s.remember(key, doc)
	}
	return s.fanout.Add(ctx, key, doc, fn), nil
}

// Notify handles a notification payload of the form "collection/id"
func (s *Store) Notify(ctx context.Context, payload string) error {
	collection, id, ok := strings.Cut(payload, "/")
	if !ok || collection == "" || id == "" {
		return fmt.Errorf("invalid notification payload %q", payload)
	}
	key := docstore.Key(collection, id)
	if !s.fanout.Has(key) {
		return nil
	}
	return s.refresh(ctx, key, collection, id, true)
}

// Poll re-reads every subscribed document and publishes the ones that changed
// since they were last delivered. It covers notifications lost while reconnecting.
func (s *Store) Poll(ctx context.Context) error {
	var errs []error
	for _, key := range s.fanout.Keys() {
		collection, id, _ := strings.Cut(key, "/")
		if err := s.refresh(ctx, key, collection, id, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) refresh(ctx context.Context, key, collection, id string, force bool) error {
	doc, err := s.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	changed := s.remember(key, doc)
	if !changed && !force {
		return nil
	}
	count := s.fanout.Publish(key, doc)
	log.Debug().
		Str("collection", collection).
		Str("doc_id", id).
		Int("subscribers", count).
		Msg("document change delivered")
	return nil
}

// remember records the delivered snapshot and reports whether it differs from the previous one
func (s *Store) remember(key string, doc docstore.Document) bool {
	raw, err := json.Marshal(doc)
	if err != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last[key] == string(raw) {
		return false
	}
	s.last[key] = string(raw)
	return true
}
