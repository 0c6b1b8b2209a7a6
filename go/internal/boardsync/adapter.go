// Package boardsync keeps a session's local layout in step with the shared
// document: it decodes snapshots on the way in and merge-writes layouts on
// the way out.
//
// Writes are last-write-wins at field granularity. A commit re-reads the
// document, swaps in one box's layout and writes the whole boxes field back,
// so two sessions committing at the same moment can lose one of the updates.
// The next snapshot reconciles every session to whatever won.
package boardsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	fieldBoxes    = "boxes"
	fieldLayout   = "layout"
	fieldJoinCode = "joinCode"
)

// Target addresses the document a session syncs against. An empty BoxID
// selects the tournament layout stored at the document root.
type Target struct {
	Collection string
	DocID      string
	BoxID      string
}

// Tournament reports whether the target is the single-layout tournament variant
func (t Target) Tournament() bool {
	return t.BoxID == ""
}

func (t Target) String() string {
	if t.Tournament() {
		return t.Collection + "/" + t.DocID
	}
	return t.Collection + "/" + t.DocID + "#" + t.BoxID
}

// Adapter is the remote sync adapter
type Adapter struct {
	store      docstore.Store
	base       time.Duration
	maxRetries uint64
}

// Option configures an Adapter
type Option func(*Adapter)

// WithBackoff sets the exponential backoff used for store I/O
func WithBackoff(base time.Duration, maxRetries uint64) Option {
	return func(a *Adapter) {
		a.base = base
		a.maxRetries = maxRetries
	}
}

// NewAdapter creates an adapter over a document store
func NewAdapter(store docstore.Store, opts ...Option) *Adapter {
	a := &Adapter{
		store:      store,
		base:       50 * time.Millisecond,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CommitOption configures a Commit
type CommitOption func(*commitOptions)

type commitOptions struct {
	claim *seatClaim
}

type seatClaim struct {
	key board.SeatKey
	uid string
}

// WithSeatClaim makes Commit fail with *board.ConflictError when the freshly
// read layout already has a different occupant in key. The check and the
// write are not atomic.
func WithSeatClaim(key board.SeatKey, uid string) CommitOption {
	return func(o *commitOptions) {
		o.claim = &seatClaim{key: key, uid: uid}
	}
}

// Subscribe delivers each decodable snapshot of the target document
func (a *Adapter) Subscribe(ctx context.Context, t Target, fn func(board.SharedState)) (docstore.Unsubscribe, error) {
	return a.store.Subscribe(ctx, t.Collection, t.DocID, func(doc docstore.Document) {
		var state board.SharedState
		if err := docstore.Decode(doc, &state); err != nil {
			log.Error().Err(err).Str("target", t.String()).Msg("skipping undecodable snapshot")
			return
		}
		fn(state)
	})
}

// Load reads the current shared state
func (a *Adapter) Load(ctx context.Context, t Target) (board.SharedState, error) {
	var state board.SharedState
	err := a.do(ctx, func(ctx context.Context) error {
		doc, err := a.store.Get(ctx, t.Collection, t.DocID)
		if err != nil {
			return err
		}
		return docstore.Decode(doc, &state)
	})
	return state, err
}

// Commit persists the session's layout for the target box
func (a *Adapter) Commit(ctx context.Context, t Target, layout board.Layout, opts ...CommitOption) error {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	return a.do(ctx, func(ctx context.Context) error {
		state, err := a.read(ctx, t)
		if err != nil {
			return err
		}

		if t.Tournament() {
			if state.Layout != nil {
				if err := o.claim.check(*state.Layout); err != nil {
					return err
				}
			}
			return a.write(ctx, t, fieldLayout, layout)
		}

		i := state.FindBox(t.BoxID)
		if i < 0 {
			return fmt.Errorf("%s: %w", t, board.ErrBoxNotFound)
		}
		if err := o.claim.check(state.Boxes[i].Layout); err != nil {
			return err
		}
		state.Boxes[i].Layout = layout
		return a.write(ctx, t, fieldBoxes, state.Boxes)
	})
}

// PutBox appends a new box or updates the card fields of an existing one.
// An existing box keeps the layout from the fresh read: seats are written by
// Commit only.
func (a *Adapter) PutBox(ctx context.Context, t Target, box board.Box) error {
	return a.do(ctx, func(ctx context.Context) error {
		state, err := a.read(ctx, t)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if i := state.FindBox(box.ID); i >= 0 {
			box.Layout = state.Boxes[i].Layout
			state.Boxes[i] = box
		} else {
			state.Boxes = append(state.Boxes, box)
		}
		return a.write(ctx, t, fieldBoxes, state.Boxes)
	})
}

// SetJoinCode stores the code players must enter to join a tournament
func (a *Adapter) SetJoinCode(ctx context.Context, t Target, code string) error {
	return a.do(ctx, func(ctx context.Context) error {
		return a.write(ctx, t, fieldJoinCode, code)
	})
}

func (a *Adapter) read(ctx context.Context, t Target) (board.SharedState, error) {
	var state board.SharedState
	doc, err := a.store.Get(ctx, t.Collection, t.DocID)
	if errors.Is(err, docstore.ErrNotFound) && t.Tournament() {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	if err := docstore.Decode(doc, &state); err != nil {
		return state, err
	}
	return state, nil
}

func (a *Adapter) write(ctx context.Context, t Target, field string, v any) error {
	doc, err := docstore.Field(field, v)
	if err != nil {
		return err
	}
	if err := a.store.Set(ctx, t.Collection, t.DocID, doc, docstore.Merge()); err != nil {
		return err
	}
	log.Debug().Str("target", t.String()).Str("field", field).Msg("committed")
	return nil
}

// do runs fn with bounded exponential backoff. Missing documents, conflicts
// and validation failures are final.
func (a *Adapter) do(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(a.maxRetries, retry.NewExponential(a.base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		log.Warn().Err(err).Msg("store operation failed, retrying")
		return retry.RetryableError(err)
	})
}

func retryable(err error) bool {
	var conflict *board.ConflictError
	switch {
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, board.ErrBoxNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &conflict):
		return false
	}
	return true
}

func (c *seatClaim) check(l board.Layout) error {
	if c == nil {
		return nil
	}
	current := l.Seats[c.key]
	if current != nil && (current.UID == "" || current.UID != c.uid) {
		return &board.ConflictError{Seat: c.key, Occupant: current.Name}
	}
	return nil
}
