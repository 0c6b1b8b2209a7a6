package render

import "github.com/mcdev12/seatboard/go/internal/board"

// GestureKind is what a pointer drag on a card does
type GestureKind int

const (
	GestureNone GestureKind = iota
	GestureMove
	GestureResize
)

func (k GestureKind) String() string {
	switch k {
	case GestureMove:
		return "move"
	case GestureResize:
		return "resize"
	default:
		return "none"
	}
}

// Gesture is one step of a card drag
type Gesture struct {
	Kind   GestureKind
	CardID string
	DX, DY float64
}

// Gestures tracks the pointer for card move and resize. A press on the
// resize handle starts a resize and never a move.
type Gestures struct {
	kind GestureKind
	card string
	last board.Point
}

// Down starts a gesture on a card
func (g *Gestures) Down(cardID string, onHandle bool, at board.Point) {
	g.card = cardID
	g.last = at
	g.kind = GestureMove
	if onHandle {
		g.kind = GestureResize
	}
}

// Move returns the delta since the previous pointer position
func (g *Gestures) Move(at board.Point) (Gesture, bool) {
	if g.kind == GestureNone {
		return Gesture{}, false
	}
	step := Gesture{
		Kind:   g.kind,
		CardID: g.card,
		DX:     at.X - g.last.X,
		DY:     at.Y - g.last.Y,
	}
	g.last = at
	return step, true
}

// Up ends the gesture and reports which card it touched
func (g *Gestures) Up() (Gesture, bool) {
	if g.kind == GestureNone {
		return Gesture{}, false
	}
	done := Gesture{Kind: g.kind, CardID: g.card}
	*g = Gestures{}
	return done, true
}

// CardID is the card being dragged, empty when idle
func (g *Gestures) CardID() string {
	return g.card
}

// Active reports whether a gesture is in progress
func (g *Gestures) Active() bool {
	return g.kind != GestureNone
}
