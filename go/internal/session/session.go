// Package session holds the per-tab application state: the local store and
// canvas, the sync adapter subscription, the renderer and the frame
// scheduler. A Session is built once the tab is authenticated and torn down
// when the tab disconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/mcdev12/seatboard/go/internal/render"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownCommand is returned by Dispatch for a command type it does not handle
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotAllowed is returned when the session's capabilities forbid a command
	ErrNotAllowed = errors.New("not allowed")
	// ErrClosed is returned once the session has been closed
	ErrClosed = errors.New("session closed")
)

const (
	defaultTitle    = "새 테이블"
	commitQueueSize = 256
)

// Config is what a session is constructed from
type Config struct {
	Identity      auth.Identity
	Capabilities  auth.Capabilities
	Target        boardsync.Target
	Adapter       *boardsync.Adapter
	Clock         clockwork.Clock
	Sink          Sink
	FrameInterval time.Duration
	TickInterval  time.Duration
	ViewWidth     float64
	ViewHeight    float64
}

// Session is one tab's application state
type Session struct {
	id      string
	cfg     Config
	adapter *boardsync.Adapter
	clock   clockwork.Clock
	sink    Sink

	mu       sync.Mutex
	store    *board.Store
	canvas   *board.Canvas
	joinCode string
	message  string
	renaming string
	gestures render.Gestures

	viewport  *render.Viewport
	renderer  *render.Renderer
	scheduler *render.Scheduler[render.View]
	lock      *render.ScrollLock

	commits chan commit
	done    chan struct{}
	unsub   docstore.Unsubscribe
	seq     atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

type commit struct {
	what   string
	layout *board.Layout
	box    *board.Box
	claim  []boardsync.CommitOption
}

// New builds a session. Nothing runs until Start.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ViewWidth == 0 {
		cfg.ViewWidth, cfg.ViewHeight = 1280, 800
	}

	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		adapter: cfg.Adapter,
		clock:   cfg.Clock,
		sink:    cfg.Sink,
		store:   board.NewStore(cfg.Clock),
		canvas:  board.NewCanvas(),
		commits: make(chan commit, commitQueueSize),
		done:    make(chan struct{}),
	}
	s.viewport = render.NewViewport(cfg.ViewWidth, cfg.ViewHeight)

	var ropts []render.RendererOption
	ropts = append(ropts, render.WithViewport(s.viewport))
	if cfg.TickInterval > 0 {
		ropts = append(ropts, render.WithTickInterval(cfg.TickInterval))
	}
	s.renderer = render.NewRenderer(cfg.Clock, s.tick, ropts...)
	s.lock = render.NewScrollLock(cfg.Clock, cfg.FrameInterval)
	s.scheduler = render.NewScheduler(cfg.Clock, cfg.FrameInterval, s.paint)
	return s
}

// ID identifies the session in logs and stats
func (s *Session) ID() string { return s.id }

// Identity is the signed-in user behind the session
func (s *Session) Identity() auth.Identity { return s.cfg.Identity }

// Target is the document the session syncs against
func (s *Session) Target() boardsync.Target { return s.cfg.Target }

// Start subscribes to the shared document and begins painting. It returns
// ErrClosed when the session was closed first.
func (s *Session) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			err = ErrClosed
			return
		}
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		sctx := s.ctx
		go s.runCommits()
		s.mu.Unlock()

		caps := s.cfg.Capabilities
		id := s.cfg.Identity
		s.send(Frame{Type: FrameHello, SessionID: s.id, Identity: &id, Capabilities: &caps})

		unsub, serr := s.adapter.Subscribe(sctx, s.cfg.Target, s.onSnapshot)
		if serr != nil {
			err = fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Target, serr)
			return
		}

		// Close may have run while subscribing
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			unsub()
			err = ErrClosed
			return
		}
		s.unsub = unsub
		s.mu.Unlock()

		log.Info().
			Str("session_id", s.id).
			Str("uid", s.cfg.Identity.UID).
			Str("target", s.cfg.Target.String()).
			Msg("session started")
		s.requestRender()
	})
	if err == nil && s.closed.Load() {
		return ErrClosed
	}
	return err
}

// onSnapshot replaces local state with the authoritative document
func (s *Session) onSnapshot(state board.SharedState) {
	s.mu.Lock()
	if s.cfg.Target.Tournament() {
		layout := board.Layout{}
		if state.Layout != nil {
			layout = *state.Layout
		}
		s.store.SnapshotFromRemote(layout)
		s.joinCode = state.JoinCode
	} else {
		// the card under the pointer keeps its local frame until the gesture ends
		dragged, dragging := s.canvas.Get(s.gestures.CardID())
		s.canvas.Replace(state.Boxes)
		if dragging && s.gestures.Active() {
			s.canvas.Put(dragged)
		}
		if i := state.FindBox(s.cfg.Target.BoxID); i >= 0 {
			s.store.SnapshotFromRemote(state.Boxes[i].Layout)
		} else {
			log.Warn().Str("session_id", s.id).Str("box_id", s.cfg.Target.BoxID).Msg("box missing from snapshot")
			s.store.SnapshotFromRemote(board.Layout{})
		}
	}
	s.mu.Unlock()

	s.requestRender()
}

// Dispatch applies one command. Validation problems become the inline
// message and are not returned; ErrNotAllowed and ErrUnknownCommand are.
func (s *Session) Dispatch(cmd Command) error {
	if s.closed.Load() {
		return ErrClosed
	}
	caps := s.cfg.Capabilities
	tournament := s.cfg.Target.Tournament()

	s.mu.Lock()
	var err error
	switch cmd.Type {
	case CmdAddWaiting:
		err = s.require(caps.EditBoard)
		if err == nil {
			_, verr := s.store.AddWaiting(cmd.Name)
			s.settle(verr, s.commitLayout)
		}

	case CmdRemoveWaiting:
		err = s.require(caps.DeleteEntries)
		if err == nil {
			if cmd.Key != "" {
				s.store.RemoveWaitingKey(cmd.Key)
			} else {
				s.store.RemoveWaiting(cmd.EntryID)
			}
			s.settle(nil, s.commitLayout)
		}

	case CmdAssign:
		err = s.require(caps.EditBoard)
		if err == nil {
			err = s.assign(cmd.EntryID, board.SeatKey(cmd.Seat))
		}

	case CmdVacateSeat:
		err = s.require(caps.DeleteEntries)
		if err == nil {
			err = s.store.VacateSeat(board.SeatKey(cmd.Seat))
			if err == nil {
				s.settle(nil, s.commitLayout)
			}
		}

	case CmdAddSeat:
		err = s.require(caps.EditBoard)
		if err == nil {
			s.store.AddSeat()
			s.settle(nil, s.commitLayout)
		}

	case CmdAddBox:
		err = s.require(caps.EditBoard && !tournament)
		if err == nil {
			title := cmd.Title
			if title == "" {
				title = defaultTitle
			}
			box := board.NewBox(uuid.NewString(), title, board.Point{X: cmd.X, Y: cmd.Y}, board.Now(s.clock.Now()))
			s.canvas.Put(box)
			s.settle(nil, func() { s.commitBox(box) })
		}

	case CmdDrop:
		err = s.require(caps.EditBoard && !tournament)
		if err == nil {
			var p board.DragPayload
			p, err = board.ParseDragPayload(cmd.Payload)
			if err == nil {
				var box board.Box
				box, err = board.Drop(s.store, s.canvas, p, board.Point{X: cmd.X, Y: cmd.Y}, uuid.NewString())
				if err == nil {
					s.settle(nil, func() {
						s.commitLayout()
						s.commitBox(box)
					})
				}
			}
		}

	case CmdOpenRename:
		err = s.require(caps.EditBoard && !tournament)
		if err == nil {
			if _, ok := s.canvas.Get(cmd.BoxID); !ok {
				err = board.ErrBoxNotFound
			} else {
				s.renaming = cmd.BoxID
				s.message = ""
			}
		}

	case CmdRename:
		err = s.require(caps.EditBoard && !tournament)
		if err == nil {
			var box board.Box
			var verr error
			box, verr = s.canvas.Rename(cmd.BoxID, cmd.Title)
			if errors.Is(verr, board.ErrBoxNotFound) {
				err = verr
				break
			}
			s.settle(verr, func() {
				s.renaming = ""
				s.commitBox(box)
			})
		}

	case CmdCancelRename:
		s.renaming = ""

	case CmdPointerDown:
		err = s.require(caps.EditBoard && !tournament)
		if err == nil {
			if _, ok := s.canvas.Get(cmd.BoxID); !ok {
				err = board.ErrBoxNotFound
			} else {
				s.gestures.Down(cmd.BoxID, cmd.Part == "handle", board.Point{X: cmd.X, Y: cmd.Y})
			}
		}

	case CmdPointerMove:
		if step, ok := s.gestures.Move(board.Point{X: cmd.X, Y: cmd.Y}); ok {
			switch step.Kind {
			case render.GestureResize:
				_, err = s.canvas.ResizeBy(step.CardID, step.DX, step.DY)
			case render.GestureMove:
				_, err = s.canvas.MoveBy(step.CardID, step.DX, step.DY)
			}
		}

	case CmdPointerUp:
		if done, ok := s.gestures.Up(); ok {
			if box, found := s.canvas.Get(done.CardID); found {
				s.commitBox(box)
			}
		}

	case CmdScroll:
		s.viewport.SetScrollOffset(cmd.X, cmd.Y)
		if cmd.Width > 0 && cmd.Height > 0 {
			s.viewport.Resize(cmd.Width, cmd.Height)
		}
		s.mu.Unlock()
		return nil

	case CmdJoin:
		err = s.require(caps.JoinTournament && tournament)
		if err == nil {
			_, verr := s.store.Join(s.cfg.Identity.UID, cmd.Name, cmd.Code, s.joinCode)
			s.settle(verr, s.commitLayout)
		}

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	s.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Str("command", cmd.Type).Msg("command rejected")
		return err
	}
	s.requestRender()
	return nil
}

// assign moves an entry into a seat inside the scroll lock, since the
// re-render it triggers can shift the viewport
func (s *Session) assign(entryID int64, key board.SeatKey) error {
	entry, ok := s.store.Entry(entryID)
	if !ok {
		return board.ErrEntryNotFound
	}

	var err error
	s.lock.Do(s.viewport, func() {
		err = s.store.AssignToSeat(entryID, key)
	})

	var conflict *board.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.message = board.MsgSeatTaken
		return nil
	case err != nil:
		return err
	}
	s.message = ""
	s.enqueue(commit{
		what:   "assign",
		layout: ptr(s.store.Layout()),
		claim:  []boardsync.CommitOption{boardsync.WithSeatClaim(key, entry.UID)},
	})
	return nil
}

// settle records a validation failure as the inline message, or clears the
// message and runs next
func (s *Session) settle(verr error, next func()) {
	var v *board.ValidationError
	if errors.As(verr, &v) {
		s.message = v.Message
		return
	}
	s.message = ""
	next()
}

func (s *Session) require(allowed bool) error {
	if !allowed {
		return ErrNotAllowed
	}
	return nil
}

func (s *Session) commitLayout() {
	s.enqueue(commit{what: "layout", layout: ptr(s.store.Layout())})
}

func (s *Session) commitBox(box board.Box) {
	s.enqueue(commit{what: "box", box: &box})
}

// enqueue hands a commit to the worker without blocking the session
func (s *Session) enqueue(c commit) {
	if s.closed.Load() {
		return
	}
	select {
	case s.commits <- c:
	default:
		log.Error().Str("session_id", s.id).Str("commit", c.what).Msg("commit queue full, dropping commit")
	}
}

// runCommits writes commits in order. Failures are logged only; the next
// snapshot brings the tab back in line with the document.
func (s *Session) runCommits() {
	defer close(s.done)
	for c := range s.commits {
		var err error
		switch {
		case c.box != nil:
			err = s.adapter.PutBox(s.ctx, s.boardTarget(), *c.box)
		case c.layout != nil:
			err = s.adapter.Commit(s.ctx, s.cfg.Target, *c.layout, c.claim...)
		}
		if err != nil {
			var conflict *board.ConflictError
			ev := log.Error()
			if errors.As(err, &conflict) {
				ev = log.Warn()
			}
			ev.Err(err).
				Str("session_id", s.id).
				Str("target", s.cfg.Target.String()).
				Str("commit", c.what).
				Msg("commit failed")
		}
	}
}

// boardTarget addresses the board document regardless of which box the session shows
func (s *Session) boardTarget() boardsync.Target {
	t := s.cfg.Target
	t.BoxID = ""
	return t
}

func (s *Session) requestRender() {
	if s.closed.Load() {
		return
	}
	s.scheduler.Request(s.view())
}

func (s *Session) view() render.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return render.View{
		Waiting:    s.store.Waiting(),
		Seats:      s.store.Seats(),
		Boxes:      s.canvas.Boxes(),
		Message:    s.message,
		Renaming:   s.renaming,
		Tournament: s.cfg.Target.Tournament(),
		Allow: render.Affordances{
			Edit:   s.cfg.Capabilities.EditBoard,
			Delete: s.cfg.Capabilities.DeleteEntries,
		},
	}
}

// paint runs once per frame with the latest requested view
func (s *Session) paint(v render.View) {
	var tree *render.Node
	s.lock.Do(s.viewport, func() {
		tree = s.renderer.Render(v)
	})
	x, y := s.viewport.ScrollOffset()
	s.send(Frame{Type: FrameRender, Tree: tree, Scroll: &Scroll{X: x, Y: y}})
}

func (s *Session) tick(label, text string) {
	s.send(Frame{Type: FrameTick, Label: label, Text: text})
}

func (s *Session) send(f Frame) {
	if s.sink == nil {
		return
	}
	f.Seq = s.seq.Add(1)
	if err := s.sink.Send(f); err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Str("frame", f.Type).Msg("failed to send frame")
	}
}

// SendError pushes an error frame for a rejected command
func (s *Session) SendError(err error) {
	s.send(Frame{Type: FrameError, Error: err.Error()})
}

// Close stops rendering, unsubscribes and waits for queued commits to land
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// enqueue runs under mu, so no commit can race the channel close
		s.mu.Lock()
		s.closed.Store(true)
		started := s.cancel != nil
		if started {
			close(s.commits)
		}
		unsub, cancel := s.unsub, s.cancel
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.scheduler.Stop()
		s.renderer.Close()

		if started {
			<-s.done
			cancel()
		}
		log.Info().Str("session_id", s.id).Msg("session closed")
	})
}

func ptr[T any](v T) *T { return &v }
