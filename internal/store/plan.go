package store

// ReorderOffset displaces rows clear of every live position during the first
// phase of a reorder. Final positions occupy [0, n), so any offset well
// above realistic collection sizes guarantees the displaced range and the
// settled range never meet.
const ReorderOffset = 10000

// PositionWrite is one position assignment within a reorder transaction.
type PositionWrite struct {
	ID       int64
	Position int
}

// TwoPhasePlan expands a desired order into the sequence of position writes
// that persists it without transient collisions: first every row moves to
// ReorderOffset+index, then every row settles at its final index. Writing
// final positions directly would collide whenever a row's new position
// equals another row's not-yet-rewritten old position.
//
// The writes must execute in the returned sequence inside one transaction.
func TwoPhasePlan(ids []int64) []PositionWrite {
	writes := make([]PositionWrite, 0, 2*len(ids))
	for i, id := range ids {
		writes = append(writes, PositionWrite{ID: id, Position: ReorderOffset + i})
	}
	for i, id := range ids {
		writes = append(writes, PositionWrite{ID: id, Position: i})
	}
	return writes
}
