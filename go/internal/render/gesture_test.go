package render

import (
	"testing"

	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/stretchr/testify/assert"
)

func TestGestures(t *testing.T) {
	tests := []struct {
		name     string
		onHandle bool
		want     GestureKind
	}{
		{"card body moves", false, GestureMove},
		{"resize handle resizes only", true, GestureResize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Gestures
			g.Down("c1", tt.onHandle, board.Point{X: 10, Y: 10})
			assert.True(t, g.Active())

			step, ok := g.Move(board.Point{X: 15, Y: 30})
			assert.True(t, ok)
			assert.Equal(t, Gesture{Kind: tt.want, CardID: "c1", DX: 5, DY: 20}, step)

			step, ok = g.Move(board.Point{X: 14, Y: 30})
			assert.True(t, ok)
			assert.Equal(t, -1.0, step.DX)
			assert.Equal(t, 0.0, step.DY)

			done, ok := g.Up()
			assert.True(t, ok)
			assert.Equal(t, tt.want, done.Kind)
			assert.False(t, g.Active())
		})
	}
}

func TestGestures_IgnoresStrayEvents(t *testing.T) {
	var g Gestures
	_, ok := g.Move(board.Point{X: 1})
	assert.False(t, ok)
	_, ok = g.Up()
	assert.False(t, ok)
	assert.Equal(t, "none", GestureNone.String())
}
