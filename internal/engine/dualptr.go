package engine

// dualptr.go encapsulates the dual lowest-level pointer rule (design note:
// "encapsulate get_level0(record, now_recovering) and set_level0(record,
// offset) as functions; never open-code the comparison").
//
// nextloc[0] and nextloc[1] are two redundant copies of a record's level-1
// forward pointer. Neither slot is primary: reads take the larger slot
// (getLevel0), and a write goes to whichever slot setLevel0 picks, so that
// the slot NOT touched by the in-flight transaction still describes the
// pre-transaction list until commit. Levels 2..record.Level
// occupy nextloc[2:] directly, one slot per level, with no redundancy:
// recovery1 repairs those the ordinary way.

// getLevel0 returns the effective level-1 forward pointer for a record
// with at least one nextloc entry. In steady state (recovering == false)
// it is the larger of the two slots, since both are known-committed. While
// recovering, only slots strictly below currentSize are trustworthy (a
// slot >= currentSize is a write from a transaction that never committed);
// the largest such slot wins, or 0 if both slots are suspect.
func getLevel0(nextloc []uint64, recovering bool, currentSize uint64) uint64 {
	a := nextloc[0]
	b := uint64(0)
	if len(nextloc) > 1 {
		b = nextloc[1]
	}
	if !recovering {
		if a > b {
			return a
		}
		return b
	}
	aOK := a < currentSize
	bOK := b < currentSize
	switch {
	case aOK && bOK:
		if a > b {
			return a
		}
		return b
	case aOK:
		return a
	case bOK:
		return b
	default:
		return 0
	}
}

// setLevel0 picks which of nextloc[0]/nextloc[1] to overwrite with newOffset
// and returns the updated pair. If one slot already holds a value from the
// in-flight transaction (>= currentSize), that same slot is reused so the
// other, pre-transaction slot survives untouched until commit. Otherwise
// the smaller (older) slot is overwritten, preserving the larger one.
func setLevel0(nextloc []uint64, newOffset, currentSize uint64) {
	a, b := nextloc[0], nextloc[1]
	switch {
	case a >= currentSize:
		nextloc[0] = newOffset
	case b >= currentSize:
		nextloc[1] = newOffset
	case a <= b:
		nextloc[0] = newOffset
	default:
		nextloc[1] = newOffset
	}
}
