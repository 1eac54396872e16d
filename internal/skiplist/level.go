// Package skiplist provides the per-handle navigation cache (Skiploc) and
// randomized level selection twoskip's on-disk skip list needs.
//
// Reference: internal/memtable/skiplist.go's randomized-height generator,
// adapted from an in-memory branching factor to twoskip's fixed
// coin-flip probability (spec: P(level >= k) = 0.5^(k-1)).
package skiplist

import (
	"math/rand"
	"time"
)

// MaxLevel is the highest level a record may be promoted to.
const MaxLevel = 31

// LevelPicker generates randomized record heights. It is not safe for
// concurrent use; each handle owns one, consistent with "writes require
// external synchronization" in the teacher's skip list and with
// spec.md's "single exclusive writer" model.
type LevelPicker struct {
	rng *rand.Rand
}

// NewLevelPicker creates a picker seeded from seed. Tests pass a fixed
// nonzero seed for determinism; a zero seed seeds from the clock.
func NewLevelPicker(seed int64) *LevelPicker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LevelPicker{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns a level in [1, MaxLevel] such that P(level >= k) = 0.5^(k-1).
func (p *LevelPicker) Pick() uint8 {
	level := uint8(1)
	for level < MaxLevel && p.rng.Intn(2) == 0 {
		level++
	}
	return level
}
