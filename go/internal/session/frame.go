package session

import (
	"encoding/json"

	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/render"
)

// Frame types pushed to the tab
const (
	FrameHello  = "hello"
	FrameRender = "render"
	FrameTick   = "tick"
	FrameError  = "error"
)

// Scroll is where the tab must leave its scroll container after painting
type Scroll struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is one message from the session to its tab
type Frame struct {
	Type         string             `json:"type"`
	Seq          uint64             `json:"seq"`
	SessionID    string             `json:"sessionId,omitempty"`
	Identity     *auth.Identity     `json:"identity,omitempty"`
	Capabilities *auth.Capabilities `json:"capabilities,omitempty"`
	Tree         *render.Node       `json:"tree,omitempty"`
	Scroll       *Scroll            `json:"scroll,omitempty"`
	Label        string             `json:"label,omitempty"`
	Text         string             `json:"text,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Sink receives frames. Implementations must not block for long: the
// gateway disconnects a client whose buffer is full.
type Sink interface {
	Send(Frame) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Frame) error

func (f SinkFunc) Send(fr Frame) error { return f(fr) }

// Command types accepted from the tab
const (
	CmdAddWaiting    = "add_waiting"
	CmdRemoveWaiting = "remove_waiting"
	CmdAssign        = "assign"
	CmdVacateSeat    = "vacate_seat"
	CmdAddSeat       = "add_seat"
	CmdAddBox        = "add_box"
	CmdDrop          = "drop"
	CmdOpenRename    = "open_rename"
	CmdRename        = "rename"
	CmdCancelRename  = "cancel_rename"
	CmdPointerDown   = "pointer_down"
	CmdPointerMove   = "pointer_move"
	CmdPointerUp     = "pointer_up"
	CmdScroll        = "scroll"
	CmdJoin          = "join"
)

// Command is one interaction reported by the tab
type Command struct {
	Type    string          `json:"type"`
	Name    string          `json:"name,omitempty"`
	EntryID int64           `json:"entry,omitempty"`
	Key     string          `json:"key,omitempty"`
	Seat    int64           `json:"seat,omitempty"`
	BoxID   string          `json:"box,omitempty"`
	Title   string          `json:"title,omitempty"`
	Part    string          `json:"part,omitempty"` // "handle" or "body" for pointer_down
	X       float64         `json:"x,omitempty"`
	Y       float64         `json:"y,omitempty"`
	Width   float64         `json:"width,omitempty"`
	Height  float64         `json:"height,omitempty"`
	Code    string          `json:"code,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseCommand decodes a command message
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, err
	}
	return c, nil
}
