package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSide is returned when two detected hands carry the same side label.
	ErrDuplicateSide = errors.New("duplicate hand side")

	// ErrUnknownSide is returned when a hand has no usable side label.
	ErrUnknownSide = errors.New("unknown hand side")

	// ErrSideOutOfLayout is returned when a hand's side has no slot in the layout.
	ErrSideOutOfLayout = errors.New("hand side not in layout")

	// ErrLengthMismatch is returned when a vector length does not match the layout.
	ErrLengthMismatch = errors.New("vector length mismatch")

	// ErrInvalidLayout is returned for layouts that cannot be encoded.
	ErrInvalidLayout = errors.New("invalid layout")
)

// LengthError describes a vector whose length does not match the layout.
//
// It matches ErrLengthMismatch with errors.Is.
type LengthError struct {
	Expected int
	Actual   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("vector length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *LengthError) Unwrap() error { return ErrLengthMismatch }
