package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
	Tags []string
}

func TestBoundedUndoScenario(t *testing.T) {
	s := New(0, 2)
	s.Commit(1)
	s.Commit(2)
	s.Commit(3)

	snap := s.Snapshot()
	require.Equal(t, []int{1, 2}, snap.Past)
	require.Equal(t, 3, snap.Present)

	require.True(t, s.Undo())
	require.Equal(t, 2, s.State())
	require.Equal(t, []int{3}, s.Snapshot().Future)

	require.True(t, s.Undo())
	require.Equal(t, 1, s.State())
	require.Equal(t, []int{2, 3}, s.Snapshot().Future)

	require.False(t, s.Undo())
	require.Equal(t, 1, s.State())
	require.False(t, s.CanUndo())
	require.True(t, s.CanRedo())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := New("a", 10)
	for _, v := range []string{"b", "c", "d", "e"} {
		s.Commit(v)
	}
	for i := 0; i < 3; i++ {
		before := s.Snapshot()
		require.True(t, s.Undo())
		require.True(t, s.Redo())
		require.Equal(t, before, s.Snapshot())
		s.Undo()
	}
	require.Equal(t, "b", s.State())
}

func TestEqualWriteIsNoop(t *testing.T) {
	s := New(point{X: 1, Y: 1, Tags: []string{"bus"}}, 5)
	s.Commit(point{X: 2, Y: 2, Tags: []string{"bus"}})
	s.Undo()
	before := s.Snapshot()

	// fresh value with identical content
	s.Commit(point{X: 1, Y: 1, Tags: []string{"bus"}})
	require.Equal(t, before, s.Snapshot())
	require.True(t, s.CanRedo())
}

func TestCommitClearsFuture(t *testing.T) {
	s := New(0, 5)
	s.Commit(1)
	s.Commit(2)
	s.Undo()
	require.True(t, s.CanRedo())

	s.Commit(7)
	require.False(t, s.CanRedo())
	require.Equal(t, []int{0, 1}, s.Snapshot().Past)
}

func TestEvictsOldestBeyondMax(t *testing.T) {
	s := New(0, 3)
	for i := 1; i <= 10; i++ {
		s.Commit(i)
	}
	snap := s.Snapshot()
	require.Len(t, snap.Past, 3)
	require.Equal(t, []int{7, 8, 9}, snap.Past)
	require.Equal(t, 10, snap.Present)
}

func TestZeroMaxDisablesUndo(t *testing.T) {
	s := New(0, 0)
	s.Commit(1)
	s.Commit(2)
	require.False(t, s.CanUndo())
	require.False(t, s.Undo())
	require.Equal(t, 2, s.State())
}

func TestUndoRedoOnFreshStore(t *testing.T) {
	s := New(point{X: 4}, 3)
	require.False(t, s.Undo())
	require.False(t, s.Redo())
	require.Equal(t, point{X: 4}, s.State())
}

func TestSetStateWithoutHistory(t *testing.T) {
	s := New(0, 5)
	s.Commit(1)
	s.Commit(2)
	s.Undo()

	s.SetState(42, false)
	snap := s.Snapshot()
	require.Equal(t, 42, snap.Present)
	require.Equal(t, []int{0}, snap.Past)
	require.Equal(t, []int{2}, snap.Future)
}

func TestClearHistoryKeepsPresent(t *testing.T) {
	s := New(0, 5)
	s.Commit(1)
	s.Commit(2)
	s.Undo()

	s.ClearHistory()
	require.Equal(t, 1, s.State())
	require.False(t, s.CanUndo())
	require.False(t, s.CanRedo())
}

func TestCloneSnapshotsCommittedValues(t *testing.T) {
	clone := func(p point) point {
		p.Tags = append([]string(nil), p.Tags...)
		return p
	}
	s := New(point{}, 5, WithClone(clone))

	v := point{X: 1, Tags: []string{"breaker"}}
	s.Commit(v)
	v.Tags[0] = "mutated"

	require.Equal(t, "breaker", s.State().Tags[0])
}

func TestCustomEqual(t *testing.T) {
	sameX := func(a, b point) bool { return a.X == b.X }
	s := New(point{X: 1}, 5, WithEqual(sameX))

	s.Commit(point{X: 1, Y: 99})
	require.False(t, s.CanUndo())
	require.Equal(t, 0, s.State().Y)
}

type node struct {
	ID  string
	pos int
}

func TestDefaultEqualHandlesUnexportedFields(t *testing.T) {
	s := New(node{ID: "a", pos: 1}, 5)
	s.Commit(node{ID: "a", pos: 2})
	require.True(t, s.CanUndo())
	require.Equal(t, node{ID: "a", pos: 2}, s.State())

	s.Commit(node{ID: "a", pos: 2})
	require.Len(t, s.Snapshot().Past, 1)

	require.True(t, s.Undo())
	require.Equal(t, node{ID: "a", pos: 1}, s.State())
}

func TestReadsDoNotAliasHistory(t *testing.T) {
	clone := func(p point) point {
		p.Tags = append([]string(nil), p.Tags...)
		return p
	}
	s := New(point{Tags: []string{"bus"}}, 5, WithClone(clone))
	s.Commit(point{X: 1, Tags: []string{"breaker"}})
	s.Undo()
	s.Redo()

	got := s.State()
	got.Tags[0] = "mutated"
	snap := s.Snapshot()
	snap.Past[0].Tags[0] = "mutated"

	require.Equal(t, "breaker", s.State().Tags[0])
	require.True(t, s.Undo())
	require.Equal(t, "bus", s.State().Tags[0])
	require.True(t, s.Redo())
	require.Equal(t, "breaker", s.State().Tags[0])
}
