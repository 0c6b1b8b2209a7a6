package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/mcdev12/seatboard/go/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

var boardTarget = boardsync.Target{Collection: "boards", DocID: "main", BoxID: "b1"}

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingSink) Send(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) lastTree() *render.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == FrameRender {
			return r.frames[i].Tree
		}
	}
	return nil
}

func (r *recordingSink) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Type == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	store   *docstore.Memory
	adapter *boardsync.Adapter
}

func newHarness(t *testing.T) *harness {
	store := docstore.NewMemory()
	return &harness{
		t:       t,
		clock:   clockwork.NewFakeClockAt(t0.Add(5 * time.Minute)),
		store:   store,
		adapter: boardsync.NewAdapter(store, boardsync.WithBackoff(time.Millisecond, 2)),
	}
}

func (h *harness) seed(state board.SharedState, collection, id string) {
	h.t.Helper()
	doc, err := docstore.Encode(state)
	require.NoError(h.t, err)
	require.NoError(h.t, h.store.Set(context.Background(), collection, id, doc))
}

func (h *harness) open(target boardsync.Target, id auth.Identity, caps auth.Capabilities) (*Session, *recordingSink) {
	h.t.Helper()
	sink := &recordingSink{}
	s := New(Config{
		Identity:     id,
		Capabilities: caps,
		Target:       target,
		Adapter:      h.adapter,
		Clock:        h.clock,
		Sink:         sink,
	})
	require.NoError(h.t, s.Start(context.Background()))
	h.t.Cleanup(s.Close)
	return s, sink
}

// waitTree advances frames until the latest render satisfies cond
func (h *harness) waitTree(sink *recordingSink, cond func(*render.Node) bool) *render.Node {
	h.t.Helper()
	var tree *render.Node
	require.Eventually(h.t, func() bool {
		h.clock.Advance(render.DefaultFrameInterval)
		tree = sink.lastTree()
		return tree != nil && cond(tree)
	}, 2*time.Second, time.Millisecond)
	return tree
}

func (h *harness) waitState(target boardsync.Target, cond func(board.SharedState) bool) board.SharedState {
	h.t.Helper()
	var state board.SharedState
	require.Eventually(h.t, func() bool {
		var err error
		state, err = h.adapter.Load(context.Background(), target)
		return err == nil && cond(state)
	}, 2*time.Second, time.Millisecond)
	return state
}

func names(tree *render.Node) []string {
	var out []string
	for _, row := range tree.FindAll(render.KindWaitingRow) {
		out = append(out, row.Text)
	}
	return out
}

func message(tree *render.Node) string {
	if n := tree.Find("message"); n != nil {
		return n.Text
	}
	return ""
}

func emptyBox(id string) board.Box {
	b := board.NewBox(id, "1번 테이블", board.Point{}, t0)
	b.Layout.Seats[1001] = nil
	b.Layout.Seats[1002] = nil
	return b
}

var userBoard = auth.Resolve(auth.RoleUser, auth.ModeBoard)
var adminBoard = auth.Resolve(auth.RoleAdmin, auth.ModeBoard)

func TestSession_AddWaitingCommits(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)

	tree := h.waitTree(sink, func(n *render.Node) bool { return len(n.FindAll(render.KindSeat)) == 2 })
	assert.Equal(t, render.EmptySeatText, tree.Find("seat:1001").Text)
	assert.Equal(t, 1, sink.count(FrameHello))

	require.NoError(t, s.Dispatch(Command{Type: CmdAddWaiting, Name: "  "}))
	tree = h.waitTree(sink, func(n *render.Node) bool { return message(n) != "" })
	assert.Equal(t, board.MsgEmptyName, message(tree))

	require.NoError(t, s.Dispatch(Command{Type: CmdAddWaiting, Name: "Kim"}))
	h.waitTree(sink, func(n *render.Node) bool {
		return assert.ObjectsAreEqual([]string{"Kim"}, names(n)) && message(n) == ""
	})

	state := h.waitState(boardTarget, func(s board.SharedState) bool { return len(s.Boxes[0].Layout.Waiting) == 1 })
	entry := state.Boxes[0].Layout.Waiting[0]
	assert.Equal(t, "Kim", entry.Name)
	assert.NotEmpty(t, entry.Key)
	assert.Len(t, state.Boxes[0].Layout.Seats, 2)
}

func TestSession_TwoTabsConverge(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")
	a, sinkA := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	_, sinkB := h.open(boardTarget, auth.Identity{UID: "u2"}, userBoard)
	h.waitTree(sinkA, func(n *render.Node) bool { return len(n.FindAll(render.KindSeat)) == 2 })

	require.NoError(t, a.Dispatch(Command{Type: CmdAddWaiting, Name: "Kim"}))
	require.NoError(t, a.Dispatch(Command{Type: CmdAddSeat}))

	tree := h.waitTree(sinkB, func(n *render.Node) bool {
		return len(names(n)) == 1 && len(n.FindAll(render.KindSeat)) == 3
	})
	assert.Equal(t, []string{"Kim"}, names(tree))
}

func TestSession_JoinTournament(t *testing.T) {
	h := newHarness(t)
	target := boardsync.Target{Collection: "tournaments", DocID: "ev1"}
	h.seed(board.SharedState{
		JoinCode: "SPRING",
		Layout: &board.Layout{
			Seats:   map[board.SeatKey]*board.Seat{},
			Waiting: []board.WaitEntry{{ID: 1, Name: "Park", UID: "u-park", Start: t0}},
		},
	}, "tournaments", "ev1")

	s, sink := h.open(target, auth.Identity{UID: "u-kim"}, auth.Resolve(auth.RoleUser, auth.ModeTournament))
	h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 1 })

	require.NoError(t, s.Dispatch(Command{Type: CmdJoin, Name: "Kim", Code: "WRONG"}))
	tree := h.waitTree(sink, func(n *render.Node) bool { return message(n) != "" })
	assert.Equal(t, "입장 코드가 올바르지 않습니다.", message(tree))
	assert.Equal(t, []string{"Park"}, names(tree))

	state, err := h.adapter.Load(context.Background(), target)
	require.NoError(t, err)
	assert.Len(t, state.Layout.Waiting, 1)

	require.NoError(t, s.Dispatch(Command{Type: CmdJoin, Name: "Kim", Code: "SPRING"}))
	tree = h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 2 })
	assert.Empty(t, message(tree))

	state = h.waitState(target, func(s board.SharedState) bool { return s.Layout != nil && len(s.Layout.Waiting) == 2 })
	assert.Equal(t, "u-kim", state.Layout.Waiting[1].UID)

	require.NoError(t, s.Dispatch(Command{Type: CmdJoin, Name: "Kim", Code: "SPRING"}))
	tree = h.waitTree(sink, func(n *render.Node) bool { return message(n) != "" })
	assert.Equal(t, board.MsgAlreadyJoined, message(tree))

	// players cannot edit the tournament layout
	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdAddSeat}), ErrNotAllowed)
	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdAddBox}), ErrNotAllowed)
}

func TestSession_DropCreatesCard(t *testing.T) {
	h := newHarness(t)
	box := emptyBox("b1")
	box.Layout.Waiting = []board.WaitEntry{
		{ID: 1, Key: "k1", Name: "Kim", Start: t0},
		{ID: 2, Key: "k2", Name: "Lee", Start: t0.Add(time.Minute)},
	}
	h.seed(board.SharedState{Boxes: []board.Box{box}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)

	tree := h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 2 })
	payload := tree.Find("waiting:k2").Attrs["drag"]
	require.NotEmpty(t, payload)

	require.NoError(t, s.Dispatch(Command{Type: CmdDrop, Payload: json.RawMessage(payload), X: 100, Y: 50}))
	tree = h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 1 })
	assert.Equal(t, []string{"Kim"}, names(tree))
	assert.Len(t, tree.FindAll(render.KindCard), 2)

	state := h.waitState(boardTarget, func(s board.SharedState) bool { return len(s.Boxes) == 2 })
	assert.Len(t, state.Boxes[0].Layout.Waiting, 1)
	card := state.Boxes[1]
	assert.Equal(t, "Lee", card.Title)
	assert.Equal(t, 100.0, card.Frame.X)
	assert.Equal(t, 50.0, card.Frame.Y)
	assert.True(t, card.StartedAt.Equal(t0.Add(time.Minute)))
}

func TestSession_AssignAndPermissions(t *testing.T) {
	h := newHarness(t)
	box := emptyBox("b1")
	box.Layout.Seats[1001] = &board.Seat{Name: "Park", StartedAt: t0}
	box.Layout.Waiting = []board.WaitEntry{
		{ID: 1, Key: "k1", Name: "Kim", Start: t0},
		{ID: 2, Key: "k2", Name: "Lee", Start: t0},
	}
	h.seed(board.SharedState{Boxes: []board.Box{box}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 2 })

	require.NoError(t, s.Dispatch(Command{Type: CmdAssign, EntryID: 1, Seat: 1001}))
	tree := h.waitTree(sink, func(n *render.Node) bool { return message(n) != "" })
	assert.Equal(t, board.MsgSeatTaken, message(tree))

	require.NoError(t, s.Dispatch(Command{Type: CmdAssign, EntryID: 1, Seat: 1002}))
	tree = h.waitTree(sink, func(n *render.Node) bool { return n.Find("seat:1002") != nil && n.Find("seat:1002").Text == "Kim" })
	assert.Equal(t, []string{"Lee"}, names(tree))

	state := h.waitState(boardTarget, func(s board.SharedState) bool { return s.Boxes[0].Layout.Seats[1002] != nil })
	assert.True(t, state.Boxes[0].Layout.Seats[1002].StartedAt.Equal(t0))

	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdRemoveWaiting, Key: "k2"}), ErrNotAllowed)
	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdVacateSeat, Seat: 1001}), ErrNotAllowed)
	assert.ErrorIs(t, s.Dispatch(Command{Type: "explode"}), ErrUnknownCommand)
	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdAssign, EntryID: 99, Seat: 1002}), board.ErrEntryNotFound)
}

func TestSession_AdminRemovesAndVacates(t *testing.T) {
	h := newHarness(t)
	box := emptyBox("b1")
	box.Layout.Seats[1001] = &board.Seat{Name: "Park", StartedAt: t0}
	box.Layout.Waiting = []board.WaitEntry{{ID: 1, Key: "k1", Name: "Kim", Start: t0}}
	h.seed(board.SharedState{Boxes: []board.Box{box}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "admin"}, adminBoard)
	h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 1 })

	require.NoError(t, s.Dispatch(Command{Type: CmdRemoveWaiting, Key: "k1"}))
	require.NoError(t, s.Dispatch(Command{Type: CmdVacateSeat, Seat: 1001}))

	state := h.waitState(boardTarget, func(s board.SharedState) bool {
		l := s.Boxes[0].Layout
		return len(l.Waiting) == 0 && l.Seats[1001] == nil
	})
	assert.Contains(t, state.Boxes[0].Layout.Seats, board.SeatKey(1001))
}

func TestSession_MoveResizeRename(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	h.waitTree(sink, func(n *render.Node) bool { return n.Find("card:b1") != nil })

	// dragging the handle resizes without moving
	require.NoError(t, s.Dispatch(Command{Type: CmdPointerDown, BoxID: "b1", Part: "handle", X: 200, Y: 120}))
	require.NoError(t, s.Dispatch(Command{Type: CmdPointerMove, X: 150, Y: 100}))
	require.NoError(t, s.Dispatch(Command{Type: CmdPointerUp}))
	state := h.waitState(boardTarget, func(s board.SharedState) bool { return s.Boxes[0].Frame.W == 150 })
	assert.Equal(t, board.Rect{X: 0, Y: 0, W: 150, H: 100}, state.Boxes[0].Frame)

	require.NoError(t, s.Dispatch(Command{Type: CmdPointerDown, BoxID: "b1", Part: "body", X: 10, Y: 10}))
	require.NoError(t, s.Dispatch(Command{Type: CmdPointerMove, X: 30, Y: 40}))
	require.NoError(t, s.Dispatch(Command{Type: CmdPointerUp}))
	state = h.waitState(boardTarget, func(s board.SharedState) bool { return s.Boxes[0].Frame.X == 20 })
	assert.Equal(t, board.Rect{X: 20, Y: 30, W: 150, H: 100}, state.Boxes[0].Frame)

	require.NoError(t, s.Dispatch(Command{Type: CmdOpenRename, BoxID: "b1"}))
	h.waitTree(sink, func(n *render.Node) bool { return n.Find("rename:b1") != nil })

	require.NoError(t, s.Dispatch(Command{Type: CmdRename, BoxID: "b1", Title: " "}))
	tree := h.waitTree(sink, func(n *render.Node) bool { return message(n) != "" })
	assert.Equal(t, board.MsgEmptyName, message(tree))
	assert.NotNil(t, tree.Find("rename:b1"))

	require.NoError(t, s.Dispatch(Command{Type: CmdRename, BoxID: "b1", Title: "VIP"}))
	h.waitState(boardTarget, func(s board.SharedState) bool { return s.Boxes[0].Title == "VIP" })
	tree = h.waitTree(sink, func(n *render.Node) bool { return n.Find("rename:b1") == nil })
	assert.Equal(t, "VIP", tree.Find("title:b1").Text)
}

func TestSession_ScrollSurvivesRender(t *testing.T) {
	h := newHarness(t)
	far := board.NewBox("far", "far", board.Point{X: 3000, Y: 3000}, t0)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1"), far}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	h.waitTree(sink, func(n *render.Node) bool { return n.Find("card:far") != nil })

	require.NoError(t, s.Dispatch(Command{Type: CmdScroll, X: 10, Y: 20, Width: 800, Height: 600}))
	require.NoError(t, s.Dispatch(Command{Type: CmdOpenRename, BoxID: "far"}))
	h.waitTree(sink, func(n *render.Node) bool { return n.Find("rename:far") != nil })

	sink.mu.Lock()
	last := sink.frames[len(sink.frames)-1]
	for i := len(sink.frames) - 1; i >= 0; i-- {
		if sink.frames[i].Type == FrameRender {
			last = sink.frames[i]
			break
		}
	}
	sink.mu.Unlock()
	require.NotNil(t, last.Scroll)
	assert.Equal(t, Scroll{X: 10, Y: 20}, *last.Scroll)
}

func TestSession_Close(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	h.waitTree(sink, func(n *render.Node) bool { return n.Find("seat:1001") != nil })

	require.NoError(t, s.Dispatch(Command{Type: CmdAddWaiting, Name: "Kim"}))
	s.Close()
	s.Close()

	// queued commits land before Close returns
	state, err := h.adapter.Load(context.Background(), boardTarget)
	require.NoError(t, err)
	assert.Len(t, state.Boxes[0].Layout.Waiting, 1)

	assert.ErrorIs(t, s.Dispatch(Command{Type: CmdAddSeat}), ErrClosed)
	renders := sink.count(FrameRender)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, renders, sink.count(FrameRender))
}

func waitingNames(s *Session) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.store.Waiting() {
		out = append(out, e.Name)
	}
	return out
}

func (h *harness) newSession(target boardsync.Target) (*Session, *recordingSink) {
	sink := &recordingSink{}
	return New(Config{
		Identity:     auth.Identity{UID: "u1"},
		Capabilities: userBoard,
		Target:       target,
		Adapter:      h.adapter,
		Clock:        h.clock,
		Sink:         sink,
	}), sink
}

func TestSession_CloseBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")

	s, sink := h.newSession(boardTarget)
	s.Close()
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	assert.Zero(t, sink.count(FrameHello))

	ghost := emptyBox("b1")
	ghost.Layout.Waiting = []board.WaitEntry{{ID: 7, Key: "k7", Name: "Ghost", Start: t0}}
	h.seed(board.SharedState{Boxes: []board.Box{ghost}}, "boards", "main")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, waitingNames(s))
}

func TestSession_StartCloseConcurrently(t *testing.T) {
	h := newHarness(t)
	h.seed(board.SharedState{Boxes: []board.Box{emptyBox("b1")}}, "boards", "main")

	var sessions []*Session
	for i := 0; i < 50; i++ {
		s, _ := h.newSession(boardTarget)
		sessions = append(sessions, s)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := s.Start(context.Background())
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()
	}

	ghost := emptyBox("b1")
	ghost.Layout.Waiting = []board.WaitEntry{{ID: 7, Key: "k7", Name: "Ghost", Start: t0}}
	h.seed(board.SharedState{Boxes: []board.Box{ghost}}, "boards", "main")
	time.Sleep(50 * time.Millisecond)

	for _, s := range sessions {
		assert.Empty(t, waitingNames(s), "closed session still receives snapshots")
		assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	}
}

func TestSession_DropStalePayload(t *testing.T) {
	h := newHarness(t)
	box := emptyBox("b1")
	box.Layout.Waiting = []board.WaitEntry{{ID: 1, Key: "k1", Name: "Kim", Start: t0}}
	h.seed(board.SharedState{Boxes: []board.Box{box}}, "boards", "main")
	s, sink := h.open(boardTarget, auth.Identity{UID: "u1"}, userBoard)
	h.waitTree(sink, func(n *render.Node) bool { return len(names(n)) == 1 })

	payload := []byte(`{"id":9,"name":"Lee","start":"2024-03-01T09:00:00Z"}`)
	err := s.Dispatch(Command{Type: CmdDrop, Payload: json.RawMessage(payload), X: 10, Y: 10})
	assert.ErrorIs(t, err, board.ErrEntryNotFound)

	s.mu.Lock()
	cards := len(s.canvas.Boxes())
	s.mu.Unlock()
	assert.Equal(t, 1, cards)
	assert.Equal(t, []string{"Kim"}, waitingNames(s))
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand([]byte(`{"type":"assign","entry":3,"seat":1001}`))
	require.NoError(t, err)
	assert.Equal(t, Command{Type: CmdAssign, EntryID: 3, Seat: 1001}, c)

	_, err = ParseCommand([]byte(`{`))
	assert.Error(t, err)
}
