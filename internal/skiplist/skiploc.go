package skiplist

import "github.com/zeebo/xxh3"

// Skiploc is the per-handle location cache described in the design: the
// last-requested key, whether it matched exactly, and per-level
// predecessor/forward offsets, validated by a (generation, end)
// fingerprint against the database's current state.
//
// Reference: this has no direct analogue in the teacher (RocksDB's
// memtable skip list is read by iterator objects, not a shared mutable
// cursor cache) — it is grounded directly on the design in
// original_source/lib/cyrusdb_twoskip.c's `struct skiploc`.
type Skiploc struct {
	// Key is the buffered key this cache was last positioned at.
	Key []byte
	// KeyHash is xxh3.Hash(Key), checked before the full byte comparison
	// on the repeat-lookup fast path so a long, non-matching key is
	// rejected without ever touching it.
	KeyHash uint64
	// IsExactMatch reports whether Key matched a live record exactly.
	IsExactMatch bool
	// RecordOffset is the offset of the matched record when IsExactMatch
	// is true, and 0 otherwise.
	RecordOffset uint64
	// Valid reports whether a traversal has been stored in this cache.
	Valid bool

	// BackLoc[i] is the offset of the predecessor record at level i.
	BackLoc [MaxLevel + 1]uint64
	// ForwardLoc[i] is BackLoc[i]'s forward pointer at level i, i.e. the
	// offset that would become a new record's nextloc[i] on insert.
	ForwardLoc [MaxLevel + 1]uint64

	// Generation and End are the fingerprint this cache was built under.
	Generation uint64
	End        uint64
}

// Fresh reports whether the cache's fingerprint still matches the
// database's current (generation, end). A stale fingerprint means a
// checkpoint (generation changed) or any commit (end changed) happened
// since this cache was built, and a full relocate is required.
func (s *Skiploc) Fresh(generation, end uint64) bool {
	return s.Valid && s.Generation == generation && s.End == end
}

// Reset clears the cache, forcing the next lookup to do a full relocate.
func (s *Skiploc) Reset() {
	*s = Skiploc{}
}

// Store records a freshly completed traversal.
func (s *Skiploc) Store(key []byte, exact bool, recordOffset uint64, back, forward [MaxLevel + 1]uint64, generation, end uint64) {
	s.Key = append(s.Key[:0], key...)
	s.KeyHash = xxh3.Hash(key)
	s.IsExactMatch = exact
	s.RecordOffset = recordOffset
	s.Valid = true
	s.BackLoc = back
	s.ForwardLoc = forward
	s.Generation = generation
	s.End = end
}
