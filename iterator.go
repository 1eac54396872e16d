package twoskip

// Iterator is an ergonomic cursor over FetchNext, returning keys with a
// given prefix in ascending comparator order. It takes its own read lock
// per step, so unlike Foreach it never holds the database open across
// Next calls; concurrent writers may advance past positions it has
// already visited but never see it skip a live key that existed for the
// iterator's entire lifetime.
type Iterator struct {
	db     *DB
	prefix []byte
	key    []byte
	val    []byte
	err    error
	done   bool
	first  bool
}

// NewIterator returns an Iterator over every live key with the given
// prefix. A nil or empty prefix iterates the whole database.
func (db *DB) NewIterator(prefix []byte) *Iterator {
	return &Iterator{db: db, prefix: prefix, first: true}
}

// Next advances the iterator and reports whether a key was found.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	start := it.prefix
	if !it.first {
		low := byte(0)
		if compareKindOf(it.db.opts) == CompareMailbox {
			low = it.db.opts.MailboxSeparator
		}
		start = nextKey(it.key, low)
	}
	it.first = false

	k, v, err := it.db.FetchNext(start)
	if err != nil {
		if err == ErrNotFound {
			it.done = true
			return false
		}
		it.err = err
		return false
	}
	if len(it.prefix) > 0 && !hasPrefix(k, it.prefix) {
		it.done = true
		return false
	}
	it.key, it.val = k, v
	return true
}

// Key returns the key at the iterator's current position.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value at the iterator's current position.
func (it *Iterator) Value() []byte { return it.val }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// nextKey returns the immediate successor of key: key followed by low,
// the byte the active comparator ranks below every other (0x00 for
// CompareRaw, the separator for CompareMailbox). Both comparators compare
// a common prefix byte-for-byte and then break ties on length, so no key
// sorts strictly between key and the result.
func nextKey(key []byte, low byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	next[len(key)] = low
	return next
}
