package engine

import (
	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/skiplist"
)

// DummyOffset is the fixed file offset of the sentinel DUMMY record.
const DummyOffset = uint64(header.Size)

// Comparator orders two keys like bytes.Compare: negative, zero, positive.
type Comparator func(a, b []byte) int

// loc is the result of a skip-list descent: the predecessor offsets and
// their forward pointers at every level, and whether the target key
// matched a live record exactly.
type loc struct {
	key     []byte
	exact   bool
	rec     *record.Record // populated (head only) iff a record was matched
	back    [skiplist.MaxLevel + 1]uint64
	forward [skiplist.MaxLevel + 1]uint64
}

// forwardAt returns rec's forward pointer for logical level, where level 1
// reads the redundant dual pair and level >= 2 reads its dedicated slot.
func forwardAt(rec *record.Record, level int, recovering bool, currentSize uint64) uint64 {
	if level < 1 || level > int(rec.Level) {
		return 0
	}
	if level == 1 {
		return getLevel0(rec.NextLoc, recovering, currentSize)
	}
	return rec.NextLoc[level]
}

// relocate performs the standard skip-list descent from DUMMY described in
// the design: for each level from MaxLevel down to 1, advance horizontally
// while the next record's key compares strictly less than target, else
// descend a level, recording the predecessor offset and its forward
// pointer. At level 1 a final comparison against the landed record sets
// exact; on exact match the record's key is already known so no further
// read is needed, and the caller is responsible for verifying tail CRC if
// it needs the value.
func (e *Engine) relocate(target []byte) (*loc, error) {
	size := e.file.Size()
	dummy, err := record.ReadHead(e.file, DummyOffset)
	if err != nil {
		return nil, err
	}

	l := &loc{key: append([]byte(nil), target...)}
	cur := dummy
	curOffset := DummyOffset

	for level := int(skiplist.MaxLevel); level >= 1; level-- {
		for {
			nextOff := forwardAt(cur, level, false, size)
			if nextOff == 0 {
				l.back[level] = curOffset
				l.forward[level] = 0
				break
			}
			nextRec, err := record.ReadHead(e.file, nextOff)
			if err != nil {
				return nil, err
			}
			nextKey, err := record.PeekKey(e.file, nextRec)
			if err != nil {
				return nil, err
			}
			if e.cmp(nextKey, target) < 0 {
				cur = nextRec
				curOffset = nextOff
				continue
			}
			l.back[level] = curOffset
			l.forward[level] = nextOff
			break
		}
	}

	// l.forward[1] now names the first live record whose key is >= target,
	// or 0 if none. Compare it for an exact match.
	if l.forward[1] != 0 {
		cand, err := record.ReadHead(e.file, l.forward[1])
		if err != nil {
			return nil, err
		}
		candKey, err := record.PeekKey(e.file, cand)
		if err != nil {
			return nil, err
		}
		if e.cmp(candKey, target) == 0 {
			l.exact = true
			l.rec = cand
			l.rec.Key = append([]byte(nil), candKey...)
		}
	}
	return l, nil
}
