package board

import (
	"strings"
	"time"
)

// Minimum card size enforced by ResizeBy
const (
	MinCardWidth  = 120
	MinCardHeight = 80
)

// DefaultCardSize is the frame size given to newly placed cards
var DefaultCardSize = Rect{W: 200, H: 120}

// Canvas holds the box-cards placed on the board. Like Store it is a cache of
// the shared document and is owned by a single session.
type Canvas struct {
	boxes []Box
}

// NewCanvas creates an empty canvas
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Replace swaps in the boxes from an authoritative snapshot
func (c *Canvas) Replace(boxes []Box) {
	c.boxes = make([]Box, len(boxes))
	for i, b := range boxes {
		b.Layout = b.Layout.Clone()
		c.boxes[i] = b
	}
}

// Boxes returns a copy of the cards in document order
func (c *Canvas) Boxes() []Box {
	out := make([]Box, len(c.boxes))
	copy(out, c.boxes)
	return out
}

// Get returns the card with the given id
func (c *Canvas) Get(id string) (Box, bool) {
	for _, b := range c.boxes {
		if b.ID == id {
			return b, true
		}
	}
	return Box{}, false
}

// Put replaces the card with the same id or appends it
func (c *Canvas) Put(box Box) {
	for i := range c.boxes {
		if c.boxes[i].ID == box.ID {
			c.boxes[i] = box
			return
		}
	}
	c.boxes = append(c.boxes, box)
}

// Rename changes a card's title. Blank titles are rejected.
func (c *Canvas) Rename(id, title string) (Box, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Box{}, validation(MsgEmptyName)
	}
	return c.update(id, func(b *Box) { b.Title = title })
}

// MoveBy translates a card by a pointer delta
func (c *Canvas) MoveBy(id string, dx, dy float64) (Box, error) {
	return c.update(id, func(b *Box) {
		b.Frame.X += dx
		b.Frame.Y += dy
	})
}

// ResizeBy grows or shrinks a card by a pointer delta, clamped to the minimum size
func (c *Canvas) ResizeBy(id string, dw, dh float64) (Box, error) {
	return c.update(id, func(b *Box) {
		b.Frame.W = max(b.Frame.W+dw, MinCardWidth)
		b.Frame.H = max(b.Frame.H+dh, MinCardHeight)
	})
}

func (c *Canvas) update(id string, fn func(*Box)) (Box, error) {
	for i := range c.boxes {
		if c.boxes[i].ID == id {
			fn(&c.boxes[i])
			return c.boxes[i], nil
		}
	}
	return Box{}, ErrBoxNotFound
}

// NewBox builds an empty card at the given position
func NewBox(id, title string, at Point, startedAt time.Time) Box {
	return Box{
		ID:        id,
		Title:     title,
		Frame:     Rect{X: at.X, Y: at.Y, W: DefaultCardSize.W, H: DefaultCardSize.H},
		StartedAt: startedAt,
		Layout:    Layout{Seats: make(map[SeatKey]*Seat), Waiting: []WaitEntry{}},
	}
}

// Drop handles a waiting row dropped onto the board: the entry leaves the
// queue and becomes a free-floating card at the drop point. The card keeps the
// payload's start so its timer continues rather than restarting. A payload
// whose entry already left the queue creates nothing and returns
// ErrEntryNotFound.
func Drop(s *Store, c *Canvas, p DragPayload, at Point, id string) (Box, error) {
	if _, ok := s.Entry(p.ID); !ok {
		return Box{}, ErrEntryNotFound
	}
	s.RemoveWaiting(p.ID)
	box := NewBox(id, p.Name, at, p.Start)
	c.Put(box)
	return box, nil
}
