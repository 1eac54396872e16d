// Package twoskip implements a single-file, crash-safe, ordered
// key-value storage engine backed by an on-disk probabilistic skip list
// with a dual lowest-level pointer scheme for fast pointer-repair
// recovery.
//
// A database is one regular file: a 64-byte header followed by a
// sequence of variable-length, individually checksummed records. Writers
// hold an exclusive advisory lock on the file for the duration of a
// transaction; readers hold a shared lock for each read, and since the
// two locks exclude each other a reader and a writer wait for one
// another. A dirty file (one whose header wasn't cleanly
// rewritten after its last commit) is repaired in place by a fast
// pointer-only recovery pass, falling back to a full linear rescan and
// rebuild if that pass cannot make sense of the tail of the file.
//
//	db, err := twoskip.Open("mailboxes.db", twoskip.DefaultOptions())
//	...
//	err = db.Store([]byte("user.inbox"), []byte("..."), false)
//	val, err := db.Fetch([]byte("user.inbox"))
//
// Multi-operation transactions use Begin:
//
//	t, err := db.Begin()
//	...
//	err = t.Store(k1, v1, false)
//	err = t.Delete(k2, false)
//	err = t.Commit()
package twoskip
