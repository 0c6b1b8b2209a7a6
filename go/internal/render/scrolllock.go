package render

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/board"
)

// Scrollable is anything with scroll offsets
type Scrollable interface {
	ScrollOffset() (x, y float64)
	SetScrollOffset(x, y float64)
}

// ScrollLock keeps a container's scroll position across an operation that
// may scroll it as a side effect.
type ScrollLock struct {
	clock clockwork.Clock
	frame time.Duration
}

// NewScrollLock creates a lock that re-restores one frame after each operation
func NewScrollLock(clock clockwork.Clock, frame time.Duration) *ScrollLock {
	if frame <= 0 {
		frame = DefaultFrameInterval
	}
	return &ScrollLock{clock: clock, frame: frame}
}

// Do snapshots the offsets, runs op, restores them straight away and once
// more on the following frame for scrolls that land after op returns.
func (l *ScrollLock) Do(target Scrollable, op func()) {
	x, y := target.ScrollOffset()
	defer func() {
		target.SetScrollOffset(x, y)
		l.clock.AfterFunc(l.frame, func() {
			target.SetScrollOffset(x, y)
		})
	}()
	op()
}

// Viewport is the server-side mirror of the tab's scroll container.
// Frames carry its offsets so the browser can apply them after painting.
type Viewport struct {
	mu     sync.Mutex
	x, y   float64
	width  float64
	height float64
}

// NewViewport creates a viewport of the given size at the origin
func NewViewport(width, height float64) *Viewport {
	return &Viewport{width: width, height: height}
}

// ScrollOffset returns the current horizontal and vertical offsets
func (v *Viewport) ScrollOffset() (float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.y
}

// SetScrollOffset moves the viewport. Negative offsets clamp to zero.
func (v *Viewport) SetScrollOffset(x, y float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.x, v.y = max(x, 0), max(y, 0)
}

// Resize records the client's visible area
func (v *Viewport) Resize(width, height float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width, v.height = width, height
}

// ScrollIntoView moves the offsets the minimum needed to show r
func (v *Viewport) ScrollIntoView(r board.Rect) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.width > 0 {
		switch {
		case r.X < v.x:
			v.x = r.X
		case r.X+r.W > v.x+v.width:
			v.x = r.X + r.W - v.width
		}
	}
	if v.height > 0 {
		switch {
		case r.Y < v.y:
			v.y = r.Y
		case r.Y+r.H > v.y+v.height:
			v.y = r.Y + r.H - v.height
		}
	}
	v.x, v.y = max(v.x, 0), max(v.y, 0)
}
