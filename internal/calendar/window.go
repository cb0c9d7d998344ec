package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DefaultIncrement is the number of days "load more" adds.
const DefaultIncrement = 30

// SoftMaxDays is the window length past which growth is logged as a
// warning. It is never enforced.
const SoftMaxDays = 365

// Direction tells which way a window extends from its start day.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseDirection accepts "forward" and "backward" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward":
		return Forward, nil
	case "backward":
		return Backward, nil
	default:
		return Forward, fmt.Errorf("calendar: unknown direction %q", s)
	}
}

// Window is the contiguous span of days materialized for display. It is a
// value: growing a window produces a new one.
type Window struct {
	Start     time.Time
	Length    int
	Direction Direction
}

// NewWindow normalizes start to UTC midnight and clamps negative lengths.
func NewWindow(start time.Time, length int, dir Direction) Window {
	if length < 0 {
		length = 0
	}
	return Window{Start: DayOf(start), Length: length, Direction: dir}
}

// Grow returns a window with the same start and direction and n more
// days. Non-positive n means DefaultIncrement.
func (w Window) Grow(n int) Window {
	if n <= 0 {
		n = DefaultIncrement
	}
	return NewWindow(w.Start, w.Length+n, w.Direction)
}

// First is the earliest day of the window.
func (w Window) First() time.Time {
	if w.Direction == Backward && w.Length > 0 {
		return AddDays(w.Start, -(w.Length - 1))
	}
	return DayOf(w.Start)
}

// Last is the latest day of the window.
func (w Window) Last() time.Time {
	if w.Direction == Backward || w.Length == 0 {
		return DayOf(w.Start)
	}
	return AddDays(w.Start, w.Length-1)
}

// Range returns the half-open instant range [from, to) covered by the window.
func (w Window) Range() (from, to time.Time) {
	if w.Length == 0 {
		s := DayOf(w.Start)
		return s, s
	}
	return w.First(), AddDays(w.Last(), 1)
}

// Contains reports whether day's UTC calendar day falls inside the window.
func (w Window) Contains(day time.Time) bool {
	if w.Length == 0 {
		return false
	}
	d := DayOf(day)
	return !d.Before(w.First()) && !d.After(w.Last())
}
