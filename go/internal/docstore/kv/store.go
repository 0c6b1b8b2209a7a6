// Package kv stores shared documents in a NATS JetStream KeyValue bucket.
package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const mergeAttempts = 5

type Config struct {
	URL    string
	Bucket string
}

// Store implements docstore.Store on a KeyValue bucket. Keys are
// "<collection>.<base64url(id)>" so arbitrary ids stay valid key tokens.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	fanout *docstore.Fanout
}

var _ docstore.Store = (*Store)(nil)

// Connect dials NATS and creates the bucket when it does not exist yet
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "seatboard shared documents",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Str("url", cfg.URL).Msg("connected to key value store")

	s := NewStore(bucket)
	s.nc = nc
	return s, nil
}

// NewStore wraps an existing bucket
func NewStore(bucket jetstream.KeyValue) *Store {
	return &Store{kv: bucket, fanout: docstore.NewFanout()}
}

// Close drains the NATS connection when the store owns it
func (s *Store) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// EncodeKey maps a document address to a bucket key
func EncodeKey(collection, id string) string {
	return collection + "." + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeKey reverses EncodeKey
func DecodeKey(key string) (collection, id string, err error) {
	collection, enc, ok := strings.Cut(key, ".")
	if !ok {
		return "", "", fmt.Errorf("invalid key %q", key)
	}
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", "", fmt.Errorf("invalid key %q: %w", key, err)
	}
	return collection, string(raw), nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, _, err := s.get(ctx, EncodeKey(collection, id))
	return doc, err
}

func (s *Store) get(ctx context.Context, key string) (docstore.Document, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, docstore.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var doc docstore.Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return doc, entry.Revision(), nil
}

// Set writes the document. A merge is a revision-checked read-modify-write so
// concurrent merges of different fields do not drop each other.
func (s *Store) Set(ctx context.Context, collection, id string, data docstore.Document, opts ...docstore.SetOption) error {
	key := EncodeKey(collection, id)
	if !docstore.ApplySetOptions(opts).Merge {
		raw, err := json.Marshal(orEmpty(data))
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		if _, err := s.kv.Put(ctx, key, raw); err != nil {
			return fmt.Errorf("failed to put %s: %w", key, err)
		}
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		existing, rev, err := s.get(ctx, key)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		raw, err := json.Marshal(orEmpty(docstore.MergeInto(existing, data)))
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		if rev == 0 {
			_, lastErr = s.kv.Create(ctx, key, raw)
		} else {
			_, lastErr = s.kv.Update(ctx, key, raw, rev)
		}
		if lastErr == nil {
			return nil
		}
		if !isRevisionConflict(lastErr) {
			return fmt.Errorf("failed to merge %s: %w", key, lastErr)
		}
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("merge raced, retrying")
	}
	return fmt.Errorf("failed to merge %s after %d attempts: %w", key, mergeAttempts, lastErr)
}

func (s *Store) List(ctx context.Context, collection string) (map[string]docstore.Document, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string]docstore.Document{}, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer lister.Stop()

	prefix := collection + "."
	out := make(map[string]docstore.Document)
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		_, id, err := DecodeKey(key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping foreign key")
			continue
		}
		doc, _, err := s.get(ctx, key)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

// Subscribe watches the key. The watcher replays the current value first.
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn func(docstore.Document)) (docstore.Unsubscribe, error) {
	key := EncodeKey(collection, id)
	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := s.kv.Watch(watchCtx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", key, err)
	}

	// one fanout slot per watcher keeps latest-wins delivery per subscriber
	slot := key + "#" + uuid.NewString()
	remove := s.fanout.Add(watchCtx, slot, nil, fn)

	go func() {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial replay
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				var doc docstore.Document
				if err := json.Unmarshal(entry.Value(), &doc); err != nil {
					log.Error().Err(err).Str("key", key).Msg("undecodable document in watch")
					continue
				}
				s.fanout.Publish(slot, doc)
			}
		}
	}()

	return func() {
		remove()
		cancel()
	}, nil
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func orEmpty(d docstore.Document) docstore.Document {
	if d == nil {
		return docstore.Document{}
	}
	return d
}
