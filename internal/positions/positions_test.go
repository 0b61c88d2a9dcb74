package positions

import (
	"sort"
	"testing"
)

// scope is an in-memory stand-in for one list's position column.
type scope map[string]int

func (s scope) apply(shift Shift) {
	if shift.Delta == 0 {
		return
	}
	for id, pos := range s {
		if pos >= shift.Lo && pos <= shift.Hi {
			s[id] = pos + shift.Delta
		}
	}
}

func (s scope) assertDense(t *testing.T) {
	t.Helper()
	got := make([]int, 0, len(s))
	for _, pos := range s {
		got = append(got, pos)
	}
	sort.Ints(got)
	for i, pos := range got {
		if pos != i+1 {
			t.Fatalf("positions not dense: %v", got)
		}
	}
}

func TestInsertAppends(t *testing.T) {
	s := scope{"a": 1, "b": 2}
	pos, shift := Insert(len(s), 3)
	s.apply(shift)
	s["c"] = pos
	if pos != 3 {
		t.Fatalf("append position = %d, want 3", pos)
	}
	s.assertDense(t)
}

func TestInsertInMiddleShiftsLaterEntities(t *testing.T) {
	s := scope{"a": 1, "b": 2, "c": 3}
	pos, shift := Insert(len(s), 2)
	s.apply(shift)
	s["d"] = pos
	if s["a"] != 1 || s["d"] != 2 || s["b"] != 3 || s["c"] != 4 {
		t.Fatalf("unexpected layout: %v", s)
	}
	s.assertDense(t)
}

func TestInsertClampsPastEnd(t *testing.T) {
	pos, _ := Insert(2, 99)
	if pos != 3 {
		t.Fatalf("position = %d, want clamp to count+1", pos)
	}
	pos, _ = Insert(2, 0)
	if pos != 1 {
		t.Fatalf("position = %d, want clamp to 1", pos)
	}
}

func TestMoveWithinNoOp(t *testing.T) {
	s := scope{"a": 1, "b": 2, "c": 3}
	pos, shift, moved := MoveWithin(len(s), 2, 2)
	if moved {
		t.Fatal("moving an entity onto itself should be a no-op")
	}
	if pos != 2 {
		t.Fatalf("position = %d, want 2", pos)
	}
	s.apply(shift)
	if s["a"] != 1 || s["b"] != 2 || s["c"] != 3 {
		t.Fatalf("no-op move changed positions: %v", s)
	}
}

// List [A@1, B@2, C@3]: moving A to 3 yields B@1, C@2, A@3; deleting B
// afterward yields C@1, A@2.
func TestMoveThenDeleteScenario(t *testing.T) {
	s := scope{"A": 1, "B": 2, "C": 3}

	pos, shift, moved := MoveWithin(len(s), 1, 3)
	if !moved {
		t.Fatal("expected a real move")
	}
	s.apply(shift)
	s["A"] = pos
	if s["B"] != 1 || s["C"] != 2 || s["A"] != 3 {
		t.Fatalf("after move: %v", s)
	}
	s.assertDense(t)

	deleted := s["B"]
	delete(s, "B")
	s.apply(Remove(deleted))
	if s["C"] != 1 || s["A"] != 2 {
		t.Fatalf("after delete: %v", s)
	}
	s.assertDense(t)
}

func TestMoveRoundTripRestoresPositions(t *testing.T) {
	s := scope{"A": 1, "B": 2, "C": 3}

	pos, shift, _ := MoveWithin(len(s), 1, 3)
	s.apply(shift)
	s["A"] = pos

	pos, shift, _ = MoveWithin(len(s), s["A"], 1)
	s.apply(shift)
	s["A"] = pos

	if s["A"] != 1 || s["B"] != 2 || s["C"] != 3 {
		t.Fatalf("round trip did not restore original layout: %v", s)
	}
}

func TestMoveWithinClampsTarget(t *testing.T) {
	s := scope{"a": 1, "b": 2, "c": 3}
	pos, shift, moved := MoveWithin(len(s), 1, 99)
	if !moved || pos != 3 {
		t.Fatalf("pos = %d moved = %v, want clamp to last slot", pos, moved)
	}
	s.apply(shift)
	s["a"] = pos
	s.assertDense(t)
}

func TestMoveAcrossConservesBothScopes(t *testing.T) {
	src := scope{"a": 1, "b": 2, "c": 3}
	dst := scope{"x": 1, "y": 2}

	moving := "b"
	from := src[moving]
	delete(src, moving)

	pos, sourceShift, destShift := MoveAcross(len(dst), from, 2)
	src.apply(sourceShift)
	dst.apply(destShift)
	dst[moving] = pos

	if len(src)+len(dst) != 5 {
		t.Fatalf("task count changed: src=%d dst=%d", len(src), len(dst))
	}
	src.assertDense(t)
	dst.assertDense(t)
	if dst[moving] != 2 || dst["x"] != 1 || dst["y"] != 3 {
		t.Fatalf("destination layout: %v", dst)
	}
	if src["a"] != 1 || src["c"] != 2 {
		t.Fatalf("source layout: %v", src)
	}
}

func TestMoveAcrossIntoEmptyScope(t *testing.T) {
	src := scope{"a": 1}
	dst := scope{}

	from := src["a"]
	delete(src, "a")
	pos, sourceShift, destShift := MoveAcross(len(dst), from, 5)
	src.apply(sourceShift)
	dst.apply(destShift)
	dst["a"] = pos

	if pos != 1 {
		t.Fatalf("position = %d, want 1 in empty scope", pos)
	}
	dst.assertDense(t)
}

// Every sequence of inserts, moves, and removals must leave the scope
// dense. Walk a fixed script and check after each step.
func TestInvariantUnderMixedOperations(t *testing.T) {
	s := scope{}
	next := 0
	newID := func() string {
		next++
		return string(rune('a' + next - 1))
	}

	for i := 0; i < 5; i++ {
		pos, shift := Insert(len(s), i+1)
		s.apply(shift)
		s[newID()] = pos
		s.assertDense(t)
	}

	script := []struct{ from, to int }{{1, 5}, {3, 1}, {2, 4}, {5, 5}, {4, 2}}
	ids := make(map[int]string, len(s))
	for _, step := range script {
		for id, pos := range s {
			ids[pos] = id
		}
		id := ids[step.from]
		pos, shift, moved := MoveWithin(len(s), step.from, step.to)
		s.apply(shift)
		if moved {
			s[id] = pos
		}
		s.assertDense(t)
	}

	for len(s) > 0 {
		var id string
		for candidate := range s {
			id = candidate
			break
		}
		at := s[id]
		delete(s, id)
		s.apply(Remove(at))
		s.assertDense(t)
	}
}
