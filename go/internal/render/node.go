// Package render projects a session's board state into the node tree the
// browser paints, and holds the frame scheduling pieces wrapped around it.
package render

import "github.com/mcdev12/seatboard/go/internal/board"

// Node kinds understood by the browser painter
const (
	KindRoot        = "root"
	KindWaitingList = "waiting-list"
	KindWaitingRow  = "waiting-row"
	KindSeats       = "seats"
	KindSeat        = "seat"
	KindBoard       = "board"
	KindCard        = "card"
	KindTitle       = "title"
	KindLabel       = "elapsed"
	KindHandle      = "resize-handle"
	KindButton      = "button"
	KindPrompt      = "prompt"
	KindMessage     = "message"
)

// Node is one element of a rendered frame
type Node struct {
	Kind     string            `json:"kind"`
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Frame    *board.Rect       `json:"frame,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

func (n *Node) add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

func (n *Node) attr(k, v string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[k] = v
	return n
}

// Walk visits n and its descendants depth first
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Find returns the first node with the given id
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(c *Node) {
		if found == nil && c.ID == id {
			found = c
		}
	})
	return found
}

// FindAll returns every node of the given kind in document order
func (n *Node) FindAll(kind string) []*Node {
	var out []*Node
	n.Walk(func(c *Node) {
		if c.Kind == kind {
			out = append(out, c)
		}
	})
	return out
}
