package render

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/stretchr/testify/assert"
)

func TestScrollLock_RestoresAcrossRender(t *testing.T) {
	clock := clockwork.NewFakeClock()
	vp := NewViewport(800, 600)
	vp.SetScrollOffset(40, 300)
	r := NewRenderer(clock, nil, WithViewport(vp))
	defer r.Close()
	lock := NewScrollLock(clock, DefaultFrameInterval)

	view := View{
		Boxes:    []board.Box{board.NewBox("far", "far away", board.Point{X: 1500, Y: 2000}, clock.Now())},
		Renaming: "far",
		Allow:    Affordances{Edit: true},
	}

	var tree *Node
	lock.Do(vp, func() {
		tree = r.Render(view)
		x, y := vp.ScrollOffset()
		assert.NotEqual(t, [2]float64{40, 300}, [2]float64{x, y}, "rename prompt should scroll into view")
	})

	assert.NotNil(t, tree.Find("rename:far"))
	x, y := vp.ScrollOffset()
	assert.Equal(t, 40.0, x)
	assert.Equal(t, 300.0, y)

	// a scroll landing after the operation is undone on the next frame
	vp.SetScrollOffset(0, 999)
	clock.Advance(DefaultFrameInterval)
	assert.Eventually(t, func() bool {
		x, y := vp.ScrollOffset()
		return x == 40 && y == 300
	}, time.Second, time.Millisecond)
}

func TestViewport_ScrollIntoView(t *testing.T) {
	vp := NewViewport(100, 100)

	vp.ScrollIntoView(board.Rect{X: 10, Y: 10, W: 20, H: 20})
	x, y := vp.ScrollOffset()
	assert.Equal(t, [2]float64{0, 0}, [2]float64{x, y})

	vp.ScrollIntoView(board.Rect{X: 150, Y: 250, W: 20, H: 20})
	x, y = vp.ScrollOffset()
	assert.Equal(t, [2]float64{70, 170}, [2]float64{x, y})

	vp.ScrollIntoView(board.Rect{X: 5, Y: 5, W: 10, H: 10})
	x, y = vp.ScrollOffset()
	assert.Equal(t, [2]float64{5, 5}, [2]float64{x, y})
}

func TestViewport_SetScrollOffsetClamps(t *testing.T) {
	v := NewViewport(800, 600)
	v.SetScrollOffset(-5, 40)
	x, y := v.ScrollOffset()
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 40.0, y)
}
