package board

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store is the local view of one box's (or one tournament's) layout. It is a
// cache of the shared document: SnapshotFromRemote discards local state in
// favor of the authoritative copy.
//
// A Store is owned by a single session and is not safe for concurrent use.
type Store struct {
	clock  clockwork.Clock
	nextID int64
	layout Layout
	newKey func() string
}

// NewStore creates an empty store
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:  clock,
		layout: Layout{Seats: make(map[SeatKey]*Seat)},
		newKey: uuid.NewString,
	}
}

// AddWaiting appends a new entry stamped with the current time
func (s *Store) AddWaiting(name string) (WaitEntry, error) {
	return s.addWaiting("", name)
}

func (s *Store) addWaiting(uid, name string) (WaitEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return WaitEntry{}, validation(MsgEmptyName)
	}

	s.nextID++
	entry := WaitEntry{
		ID:    s.nextID,
		Key:   s.newKey(),
		Name:  name,
		UID:   uid,
		Start: Now(s.clock.Now()),
	}
	s.layout.Waiting = append(s.layout.Waiting, entry)
	return entry, nil
}

// Join queues a signed-in user in the tournament variant. The code must match
// the tournament's stored join code and the user may not already be queued or
// seated.
func (s *Store) Join(uid, name, code, expected string) (WaitEntry, error) {
	if strings.TrimSpace(name) == "" {
		return WaitEntry{}, validation(MsgEmptyName)
	}
	if strings.TrimSpace(code) != strings.TrimSpace(expected) {
		return WaitEntry{}, validation(MsgInvalidJoinCode)
	}
	if s.Contains(uid) {
		return WaitEntry{}, validation(MsgAlreadyJoined)
	}
	return s.addWaiting(uid, name)
}

// Contains reports whether uid is already waiting or seated
func (s *Store) Contains(uid string) bool {
	if uid == "" {
		return false
	}
	for _, e := range s.layout.Waiting {
		if e.UID == uid {
			return true
		}
	}
	for _, seat := range s.layout.Seats {
		if seat != nil && seat.UID == uid {
			return true
		}
	}
	return false
}

// RemoveWaiting removes the first entry with the given id. A missing id is not
// an error: a remote snapshot may already have removed it.
func (s *Store) RemoveWaiting(id int64) {
	if i := s.indexOf(id); i >= 0 {
		s.layout.Waiting = append(s.layout.Waiting[:i], s.layout.Waiting[i+1:]...)
	}
}

// RemoveWaitingKey removes the entry with the given global key
func (s *Store) RemoveWaitingKey(key string) {
	for i, e := range s.layout.Waiting {
		if e.Key == key {
			s.layout.Waiting = append(s.layout.Waiting[:i], s.layout.Waiting[i+1:]...)
			return
		}
	}
}

// Entry returns the waiting entry with the given id
func (s *Store) Entry(id int64) (WaitEntry, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.layout.Waiting[i], true
	}
	return WaitEntry{}, false
}

func (s *Store) indexOf(id int64) int {
	for i, e := range s.layout.Waiting {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// AssignToSeat moves a waiting entry into a seat. The seat keeps the entry's
// original start time so elapsed time is continuous across the move.
func (s *Store) AssignToSeat(entryID int64, key SeatKey) error {
	i := s.indexOf(entryID)
	if i < 0 {
		return ErrEntryNotFound
	}
	current, ok := s.layout.Seats[key]
	if !ok {
		return ErrSeatNotFound
	}

	entry := s.layout.Waiting[i]
	if current != nil && (current.UID == "" || current.UID != entry.UID) {
		return &ConflictError{Seat: key, Occupant: current.Name}
	}

	if entry.UID != "" {
		for k, seat := range s.layout.Seats {
			if k != key && seat != nil && seat.UID == entry.UID {
				s.layout.Seats[k] = nil
			}
		}
	}

	s.layout.Waiting = append(s.layout.Waiting[:i], s.layout.Waiting[i+1:]...)
	s.layout.Seats[key] = &Seat{
		Name:      entry.Name,
		StartedAt: entry.Start,
		UID:       entry.UID,
	}
	return nil
}

// VacateSeat empties a seat, keeping its key
func (s *Store) VacateSeat(key SeatKey) error {
	if _, ok := s.layout.Seats[key]; !ok {
		return ErrSeatNotFound
	}
	s.layout.Seats[key] = nil
	return nil
}

// AddSeat allocates an empty seat. Keys come from the clock in milliseconds and
// are bumped past the largest existing key so they stay strictly increasing.
func (s *Store) AddSeat() SeatKey {
	key := SeatKey(s.clock.Now().UnixMilli())
	for k := range s.layout.Seats {
		if k >= key {
			key = k + 1
		}
	}
	s.layout.Seats[key] = nil
	return key
}

// SnapshotFromRemote replaces the local layout with the authoritative one
func (s *Store) SnapshotFromRemote(l Layout) {
	s.layout = l.Clone()
	for _, e := range s.layout.Waiting {
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
	}
}

// Layout returns a copy of the current layout, ready to persist
func (s *Store) Layout() Layout {
	return s.layout.Clone()
}

// Waiting returns the queue in insertion order
func (s *Store) Waiting() []WaitEntry {
	out := make([]WaitEntry, len(s.layout.Waiting))
	copy(out, s.layout.Waiting)
	return out
}

// Seats returns the seat map
func (s *Store) Seats() map[SeatKey]*Seat {
	return s.layout.Clone().Seats
}

// SortedSeatKeys returns seat keys in ascending order
func SortedSeatKeys(seats map[SeatKey]*Seat) []SeatKey {
	keys := make([]SeatKey, 0, len(seats))
	for k := range seats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
