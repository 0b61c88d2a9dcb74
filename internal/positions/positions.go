// Package positions computes the renumbering steps that keep an ordered
// collection's position index dense: 1-based, contiguous, no duplicates.
// Callers apply the returned shifts and the entity's final position inside
// one transaction.
package positions

import "math"

// Unbounded marks a shift with no upper position limit.
const Unbounded = math.MaxInt32

// Shift adjusts every position p with Lo <= p <= Hi by Delta.
type Shift struct {
	Lo    int
	Hi    int
	Delta int
}

// Clamp bounds a requested position to the valid insertion range for a
// scope currently holding count entities. Anything past the end appends;
// anything below 1 becomes 1.
func Clamp(count, want int) int {
	if want < 1 {
		return 1
	}
	if want > count+1 {
		return count + 1
	}
	return want
}

// Insert returns the final position for a new entity and the shift that
// makes room for it: existing entities at or after the slot move up one.
func Insert(count, at int) (int, Shift) {
	pos := Clamp(count, at)
	return pos, Shift{Lo: pos, Hi: Unbounded, Delta: 1}
}

// MoveWithin returns the final position for an entity moving inside its
// scope and the single shift closing its old slot while opening the new
// one. The third result is false for a no-op move.
func MoveWithin(count, from, to int) (int, Shift, bool) {
	pos := to
	if pos > count {
		pos = count
	}
	if pos < 1 {
		pos = 1
	}
	if pos == from {
		return from, Shift{}, false
	}
	if pos > from {
		// moving toward the end: everything in (from, pos] slides down one
		return pos, Shift{Lo: from + 1, Hi: pos, Delta: -1}, true
	}
	// moving toward the front: everything in [pos, from) slides up one
	return pos, Shift{Lo: pos, Hi: from - 1, Delta: 1}, true
}

// Remove returns the shift that closes the gap left at the given position.
func Remove(at int) Shift {
	return Shift{Lo: at + 1, Hi: Unbounded, Delta: -1}
}

// MoveAcross returns the destination position plus the source-scope and
// destination-scope shifts for an entity leaving one scope and entering
// another. dstCount is the destination's size before the entity arrives.
func MoveAcross(dstCount, from, to int) (pos int, source, dest Shift) {
	pos, dest = Insert(dstCount, to)
	return pos, Remove(from), dest
}
