package board

import (
	"encoding/json"
	"fmt"
	"time"
)

// WaitEntry is one queued person awaiting a seat
type WaitEntry struct {
	ID    int64     `json:"id,omitempty"`  // Per-session counter
	Key   string    `json:"key,omitempty"` // Globally unique, used for cross-session dedup
	Name  string    `json:"name"`
	UID   string    `json:"uid,omitempty"`
	Start time.Time `json:"startedAt"`
}

// Seat is the occupant of one seat slot
type Seat struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
	UID       string    `json:"uid,omitempty"`
}

// SeatKey identifies a seat within a box. Keys are derived from creation time in
// milliseconds and are never reused.
type SeatKey int64

// Layout is the seats/waiting structure shared by a box and by a tournament
type Layout struct {
	Seats   map[SeatKey]*Seat `json:"seats"`
	Waiting []WaitEntry       `json:"waiting"`
}

// Rect positions a card on the board
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a board coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is one table on the board. It is rendered as a card carrying a title,
// a frame and the timestamp its elapsed timer counts from.
type Box struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Frame     Rect      `json:"frame"`
	StartedAt time.Time `json:"startedAt"`
	Layout    Layout    `json:"layout"`
}

// SharedState is the root document every session synchronizes against
type SharedState struct {
	Boxes    []Box   `json:"boxes,omitempty"`
	Layout   *Layout `json:"layout,omitempty"`
	JoinCode string  `json:"joinCode,omitempty"`
}

// DragPayload is what a draggable waiting row carries to a drop target
type DragPayload struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// DragPayload serializes the entry for a drag source
func (e WaitEntry) DragPayload() DragPayload {
	return DragPayload{ID: e.ID, Name: e.Name, Start: e.Start}
}

// ParseDragPayload decodes a drag payload produced by a waiting row
func ParseDragPayload(data []byte) (DragPayload, error) {
	var p DragPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return DragPayload{}, fmt.Errorf("decode drag payload: %w", err)
	}
	return p, nil
}

// Clone returns a deep copy of the layout
func (l Layout) Clone() Layout {
	out := Layout{
		Seats:   make(map[SeatKey]*Seat, len(l.Seats)),
		Waiting: make([]WaitEntry, len(l.Waiting)),
	}
	for k, s := range l.Seats {
		if s == nil {
			out.Seats[k] = nil
			continue
		}
		seat := *s
		out.Seats[k] = &seat
	}
	copy(out.Waiting, l.Waiting)
	return out
}

// FindBox returns the index of the box with the given id or -1
func (s SharedState) FindBox(id string) int {
	for i := range s.Boxes {
		if s.Boxes[i].ID == id {
			return i
		}
	}
	return -1
}

// Now returns the canonical timestamp form used in persisted documents
func Now(t time.Time) time.Time {
	return t.UTC().Round(time.Millisecond)
}
