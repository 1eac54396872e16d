package twoskip

import (
	"fmt"

	"github.com/aalhour/twoskipdb/internal/logging"
)

// Txn is a single write transaction against a DB, opened by Begin and
// closed by exactly one of Commit or Abort. A DB allows only one open
// transaction at a time, matching spec §4.7's single-writer discipline.
type Txn struct {
	db     *DB
	open   bool
	closed bool
}

// Begin opens a write transaction, acquiring both db.mu and the exclusive
// file lock for its entire lifetime. Both are released by Commit or Abort,
// never in between, so a transaction spanning multiple Store/Delete calls
// never races another writer and never lets a concurrent reader convert
// the file's exclusive flock to shared out from under it.
func (db *DB) Begin() (*Txn, error) {
	db.mu.Lock()
	if db.txn != nil {
		db.mu.Unlock()
		return nil, fmt.Errorf("twoskip: transaction already open on %s", db.path)
	}
	if err := db.file.Lock(); err != nil {
		db.mu.Unlock()
		return nil, wrapIO(err)
	}
	if err := db.maybeRecoverLocked(); err != nil {
		_ = db.file.Unlock()
		db.mu.Unlock()
		return nil, err
	}
	t := &Txn{db: db, open: true}
	db.txn = t
	return t, nil
}

func (t *Txn) checkOpen() error {
	if t.closed {
		return fmt.Errorf("twoskip: transaction already closed")
	}
	return nil
}

// Store inserts or overwrites key within t. See Engine.Store for the
// force semantics. db.mu is already held for the lifetime of t, acquired
// by Begin and released by Commit or Abort, so Store does not touch it.
func (t *Txn) Store(key, val []byte, force bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return wrapIO(t.db.eng.Store(key, val, force))
}

// Delete removes key within t. See Engine.Delete for the force semantics.
func (t *Txn) Delete(key []byte, force bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return wrapIO(t.db.eng.Delete(key, force))
}

// Commit durably commits every write made through t. If the post-commit
// file has grown enough past its live data (spec §4.7's MINREWRITE and
// REWRITE_RATIO heuristic), a checkpoint runs before the locks are
// released. Both db.mu and the file lock were acquired by Begin and are
// released here exactly once, since a Txn that is already closed never
// held them to begin with.
func (t *Txn) Commit() error {
	db := t.db
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.closed = true
	db.txn = nil
	defer db.mu.Unlock()
	defer func() { _ = db.file.Unlock() }()

	needsCheckpoint, err := db.eng.Commit()
	if err != nil {
		return wrapIO(err)
	}
	if db.filter != nil {
		db.rebuildFilterLocked()
	}
	if needsCheckpoint {
		if err := db.runCheckpointLocked(); err != nil {
			db.log.Warnf(logging.NSDB+"%s: post-commit checkpoint failed: %v", db.path, err)
		}
	}
	return nil
}

// Abort discards every write made through t, running recovery1 to repair
// the file's pointers back to their pre-transaction state. See Commit for
// why db.mu and the file lock are released here rather than reacquired.
func (t *Txn) Abort() error {
	db := t.db
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.closed = true
	db.txn = nil
	defer db.mu.Unlock()
	defer func() { _ = db.file.Unlock() }()

	if err := db.eng.Abort(); err != nil {
		return wrapIO(err)
	}
	if db.filter != nil {
		db.rebuildFilterLocked()
	}
	return nil
}
