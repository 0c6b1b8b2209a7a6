package docstore

import (
	"context"
	"sync"
)

// Fanout delivers document snapshots to subscribers keyed by collection/id.
// Each subscriber runs its callback on its own goroutine; when it falls behind
// only the most recent snapshot is kept.
type Fanout struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	updates chan Document
	done    chan struct{}
	once    sync.Once
}

// NewFanout creates an empty subscriber registry
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[*subscriber]struct{})}
}

// Key builds the subscription key for a document
func Key(collection, id string) string {
	return collection + "/" + id
}

// Add registers fn for key. If initial is non-nil it is delivered first.
// The subscription ends when ctx is done or the returned func is called.
func (f *Fanout) Add(ctx context.Context, key string, initial Document, fn func(Document)) Unsubscribe {
	s := &subscriber{
		updates: make(chan Document, 1),
		done:    make(chan struct{}),
	}

	f.mu.Lock()
	if f.subs[key] == nil {
		f.subs[key] = make(map[*subscriber]struct{})
	}
	f.subs[key][s] = struct{}{}
	if initial != nil {
		s.push(initial.Clone())
	}
	f.mu.Unlock()

	unsubscribe := func() {
		s.once.Do(func() {
			f.mu.Lock()
			delete(f.subs[key], s)
			if len(f.subs[key]) == 0 {
				delete(f.subs, key)
			}
			f.mu.Unlock()
			close(s.done)
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-s.done:
				return
			case doc := <-s.updates:
				fn(doc)
			}
		}
	}()

	return unsubscribe
}

// Publish hands doc to every subscriber of key and returns how many there were
func (f *Fanout) Publish(key string, doc Document) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	// push never blocks, so fan out under the lock to keep snapshot order
	for s := range f.subs[key] {
		s.push(doc.Clone())
	}
	return len(f.subs[key])
}

// Keys returns the keys that currently have subscribers
func (f *Fanout) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.subs))
	for k := range f.subs {
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether key has subscribers
func (f *Fanout) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[key]) > 0
}

// push hands the subscriber a snapshot, replacing one it has not consumed yet
func (s *subscriber) push(doc Document) {
	for {
		select {
		case s.updates <- doc:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
