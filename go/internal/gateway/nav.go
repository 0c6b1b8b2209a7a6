package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// NavParams says which board or tournament a tab opens
type NavParams struct {
	BoxID   string `json:"box,omitempty"`
	EventID string `json:"event,omitempty"`
}

// Tournament reports whether the params select the tournament variant
func (p NavParams) Tournament() bool {
	return p.EventID != ""
}

// NavSlots hands navigation params from one page to the next through a
// short-lived, single-use slot owned by one user
type NavSlots struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu    sync.Mutex
	slots map[string]navSlot
}

type navSlot struct {
	uid     string
	params  NavParams
	expires time.Time
}

// NewNavSlots creates a slot store whose entries live for ttl
func NewNavSlots(clock clockwork.Clock, ttl time.Duration) *NavSlots {
	return &NavSlots{clock: clock, ttl: ttl, slots: make(map[string]navSlot)}
}

// Put stores params for uid and returns the slot id
func (n *NavSlots) Put(uid string, params NavParams) string {
	id := uuid.NewString()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slots[id] = navSlot{uid: uid, params: params, expires: n.clock.Now().Add(n.ttl)}
	return id
}

// Take returns and removes the slot. Expired slots and slots owned by
// another user are not returned.
func (n *NavSlots) Take(uid, id string) (NavParams, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	slot, ok := n.slots[id]
	if !ok || slot.uid != uid {
		return NavParams{}, false
	}
	delete(n.slots, id)
	if !n.clock.Now().Before(slot.expires) {
		return NavParams{}, false
	}
	return slot.params, true
}

// Sweep drops expired slots and returns how many were removed
func (n *NavSlots) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	removed := 0
	for id, slot := range n.slots {
		if !now.Before(slot.expires) {
			delete(n.slots, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("swept expired navigation slots")
	}
	return removed
}

// Len is the number of live slots
func (n *NavSlots) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.slots)
}
