package board

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotFound is returned when a waiting entry id is not in the queue
	ErrEntryNotFound = errors.New("waiting entry not found")
	// ErrSeatNotFound is returned when a seat key does not exist in the layout
	ErrSeatNotFound = errors.New("seat not found")
	// ErrBoxNotFound is returned when a card id is not on the canvas
	ErrBoxNotFound = errors.New("box not found")
)

// Inline messages shown next to the input that produced them
const (
	MsgEmptyName       = "이름을 입력하세요."
	MsgInvalidJoinCode = "입장 코드가 올바르지 않습니다."
	MsgAlreadyJoined   = "이미 참가 중입니다."
	MsgSeatTaken       = "이미 다른 사람이 앉아 있습니다."
)

// ConflictError reports a seat already held by a different user
type ConflictError struct {
	Seat     SeatKey
	Occupant string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seat %d is occupied by %q", e.Seat, e.Occupant)
}

// ValidationError is rejected input. Message is user facing.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validation(msg string) error {
	return &ValidationError{Message: msg}
}
