package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/board"
)

// EmptySeatText is shown on a seat card with no occupant
const EmptySeatText = "빈 자리"

// Affordances decide which interactive controls a render emits
type Affordances struct {
	Edit   bool // add, assign, drag, rename, move and resize
	Delete bool // remove waiting entries and vacate seats
}

// View is everything one render reads
type View struct {
	Waiting    []board.WaitEntry
	Seats      map[board.SeatKey]*board.Seat
	Boxes      []board.Box
	Message    string // inline validation text
	Renaming   string // card id whose rename prompt is open
	Tournament bool
	Allow      Affordances
}

// Renderer turns a View into a node tree. Every elapsed label it emits gets a
// ticker keyed by the label id; labels missing from the newest render have
// their tickers stopped, so repeated renders never pile up timers.
type Renderer struct {
	clock    clockwork.Clock
	interval time.Duration
	viewport *Viewport
	onTick   func(id, text string)

	mu      sync.Mutex
	tickers map[string]*labelTicker
	closed  bool
}

type labelTicker struct {
	start  time.Time
	ticker clockwork.Ticker
	done   chan struct{}
}

// RendererOption configures a Renderer
type RendererOption func(*Renderer)

// WithTickInterval sets how often elapsed labels refresh
func WithTickInterval(d time.Duration) RendererOption {
	return func(r *Renderer) { r.interval = d }
}

// WithViewport lets the renderer scroll newly focused elements into view
func WithViewport(v *Viewport) RendererOption {
	return func(r *Renderer) { r.viewport = v }
}

// NewRenderer creates a renderer. onTick receives refreshed label text.
func NewRenderer(clock clockwork.Clock, onTick func(id, text string), opts ...RendererOption) *Renderer {
	r := &Renderer{
		clock:    clock,
		interval: time.Second,
		onTick:   onTick,
		tickers:  make(map[string]*labelTicker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render builds the frame for v. It is idempotent: rendering the same view
// twice yields equal trees and leaves the same set of tickers running.
func (r *Renderer) Render(v View) *Node {
	now := r.clock.Now()
	labels := make(map[string]time.Time)
	label := func(id string, start time.Time) *Node {
		labels[id] = start
		return &Node{Kind: KindLabel, ID: id, Text: board.Elapsed(start, now)}
	}

	root := &Node{Kind: KindRoot}
	if v.Tournament {
		root.attr("mode", "tournament")
	}

	list := &Node{Kind: KindWaitingList, ID: "waiting"}
	for _, e := range v.Waiting {
		ref := entryRef(e)
		row := &Node{Kind: KindWaitingRow, ID: "waiting:" + ref, Text: e.Name}
		row.attr("entry", strconv.FormatInt(e.ID, 10))
		if v.Allow.Edit {
			if payload, err := json.Marshal(e.DragPayload()); err == nil {
				row.attr("drag", string(payload))
			}
		}
		row.add(label("elapsed:waiting:"+ref, e.Start))
		if v.Allow.Delete {
			row.add(button("remove:"+ref, "삭제", "remove_waiting"))
		}
		list.add(row)
	}
	root.add(list)

	seats := &Node{Kind: KindSeats, ID: "seats"}
	for _, key := range board.SortedSeatKeys(v.Seats) {
		k := strconv.FormatInt(int64(key), 10)
		seat := v.Seats[key]
		card := &Node{Kind: KindSeat, ID: "seat:" + k}
		card.attr("seat", k)
		if seat == nil {
			card.Text = EmptySeatText
			card.attr("empty", "true")
			if v.Allow.Edit {
				card.attr("drop", "assign")
			}
		} else {
			card.Text = seat.Name
			card.add(label("elapsed:seat:"+k, seat.StartedAt))
			if v.Allow.Delete {
				card.add(button("vacate:"+k, "비우기", "vacate_seat"))
			}
		}
		seats.add(card)
	}
	if v.Allow.Edit {
		seats.add(button("add-seat", "+", "add_seat"))
	}
	root.add(seats)

	if !v.Tournament {
		canvas := &Node{Kind: KindBoard, ID: "board"}
		if v.Allow.Edit {
			canvas.attr("drop", "drop")
		}
		for _, b := range v.Boxes {
			canvas.add(r.card(b, v, label))
		}
		root.add(canvas)
	}

	if v.Message != "" {
		root.add(&Node{Kind: KindMessage, ID: "message", Text: v.Message})
	}

	r.syncTickers(labels)
	return root
}

func (r *Renderer) card(b board.Box, v View, label func(string, time.Time) *Node) *Node {
	frame := b.Frame
	card := &Node{Kind: KindCard, ID: "card:" + b.ID, Frame: &frame}
	title := &Node{Kind: KindTitle, ID: "title:" + b.ID, Text: b.Title}
	if v.Allow.Edit {
		title.attr("dblclick", "open_rename")
	}
	card.add(title, label("elapsed:card:"+b.ID, b.StartedAt))
	if v.Allow.Edit {
		card.add(&Node{Kind: KindHandle, ID: "handle:" + b.ID})
	}
	if v.Allow.Edit && v.Renaming == b.ID {
		prompt := &Node{Kind: KindPrompt, ID: "rename:" + b.ID, Text: b.Title}
		prompt.attr("autofocus", "true")
		card.add(prompt)
		// focusing the prompt scrolls it into view, like a browser would
		if r.viewport != nil {
			r.viewport.ScrollIntoView(frame)
		}
	}
	return card
}

func button(id, text, action string) *Node {
	n := &Node{Kind: KindButton, ID: id, Text: text}
	return n.attr("action", action)
}

// entryRef prefers the global key; entries written before keys existed fall back to the id
func entryRef(e board.WaitEntry) string {
	if e.Key != "" {
		return e.Key
	}
	return fmt.Sprintf("id-%d", e.ID)
}

func (r *Renderer) syncTickers(labels map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	for id, t := range r.tickers {
		start, keep := labels[id]
		if keep && start.Equal(t.start) {
			continue
		}
		t.stop()
		delete(r.tickers, id)
	}
	for id, start := range labels {
		if _, ok := r.tickers[id]; ok {
			continue
		}
		r.tickers[id] = r.startTicker(id, start)
	}
}

func (r *Renderer) startTicker(id string, start time.Time) *labelTicker {
	t := &labelTicker{
		start:  start,
		ticker: r.clock.NewTicker(r.interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.Chan():
				if r.onTick != nil {
					r.onTick(id, board.Elapsed(start, r.clock.Now()))
				}
			}
		}
	}()
	return t
}

func (t *labelTicker) stop() {
	t.ticker.Stop()
	close(t.done)
}

// ActiveTickers returns the number of running label tickers
func (r *Renderer) ActiveTickers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickers)
}

// Close stops every ticker. Later renders start none.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tickers {
		t.stop()
		delete(r.tickers, id)
	}
	r.closed = true
}
