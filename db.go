// Package twoskip implements a single-file, crash-safe, ordered
// key-value storage engine on a probabilistic on-disk skip list with a
// dual lowest-level pointer scheme, following the design in
// SPEC_FULL.md.
//
// Reference: db/db.go's lock-upgrade/recovery/downgrade pattern in the
// teacher repo is the model for DB's locking discipline here, adapted
// from an in-memory WAL+memtable database to an mmap'd single file with
// advisory OS-level locking as the cross-process exclusion mechanism.
package twoskip

import (
	"fmt"
	"sync"

	"github.com/aalhour/twoskipdb/internal/bloomindex"
	"github.com/aalhour/twoskipdb/internal/checkpoint"
	"github.com/aalhour/twoskipdb/internal/engine"
	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/recovery"
	"github.com/aalhour/twoskipdb/internal/registry"
	"github.com/aalhour/twoskipdb/internal/retryopen"
	"github.com/aalhour/twoskipdb/internal/skiplist"
)

// DB is a handle on one open database file. It is safe for concurrent
// use by multiple goroutines: an internal mutex serializes access to the
// in-process state, while an advisory flock on the file descriptor
// serializes access across cooperating processes per spec §5.
type DB struct {
	mu   sync.Mutex
	path string
	opts Options

	file *mmapfile.File
	hdr  *header.Header
	cmp  engine.Comparator
	eng  *engine.Engine
	log  logging.Logger

	filter *bloomindex.Filter
	txn    *Txn
}

var handles = registry.New[*DB]()

// Open opens path, obtaining the shared process-wide handle if another
// caller in this process already has it open (spec §4.10), otherwise
// creating or loading the file fresh.
func Open(path string, opts Options) (*DB, error) {
	return handles.Open(path, func() (*DB, error) {
		return openFile(path, opts)
	})
}

func openFile(path string, opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	}
	log := opts.Logger
	create := opts.Flags&FlagCreate != 0

	f, err := mmapfile.Open(path, create)
	if err != nil {
		return nil, wrapIO(err)
	}

	if err := retryopen.Do(opts.OpenRetry, func() error {
		ok, lerr := f.TryLock()
		if lerr != nil {
			return lerr
		}
		if !ok {
			return fmt.Errorf("file lock held by another process")
		}
		return nil
	}); err != nil {
		_ = f.Close()
		return nil, wrapIO(err)
	}
	defer f.Unlock()

	var hdr *header.Header
	if f.Size() == 0 {
		hdr, err = createFresh(f)
		if err != nil {
			_ = f.Close()
			return nil, wrapIO(err)
		}
	} else {
		hbuf, err := f.Slice(0, header.Size)
		if err != nil {
			_ = f.Close()
			return nil, wrapIO(err)
		}
		hdr, err = header.Decode(hbuf)
		if err != nil {
			_ = f.Close()
			return nil, wrapIO(err)
		}
		if hdr.Dirty() || hdr.CurrentSize != f.Size() {
			log.Infof(logging.NSDB+"%s: dirty header, running recovery", path)
			f, hdr, err = runRecovery(path, f, hdr, engine.Comparator(resolveComparator(compareKindOf(opts), opts.MailboxSeparator)), log)
			if err != nil {
				return nil, wrapIO(err)
			}
		}
	}

	cmp := resolveComparator(compareKindOf(opts), opts.MailboxSeparator)

	db := &DB{
		path: path,
		opts: opts,
		file: f,
		hdr:  hdr,
		cmp:  engine.Comparator(cmp),
		log:  log,
	}
	if opts.BloomFilter {
		db.filter = bloomindex.New(uint(hdr.NumRecords+1), opts.BloomFilterFalsePositive)
	}
	db.eng = engine.New(f, hdr, db.engineOptions())
	if db.filter != nil {
		db.rebuildFilterLocked()
	}
	return db, nil
}

func compareKindOf(opts Options) CompareKind {
	if opts.Flags&FlagMboxSort != 0 {
		return CompareMailbox
	}
	return CompareRaw
}

func createFresh(f *mmapfile.File) (*header.Header, error) {
	hdr := header.New()
	nextloc := make([]uint64, skiplist.MaxLevel+1)
	dummyBuf, err := record.Encode(record.Dummy, skiplist.MaxLevel, nil, nil, nextloc)
	if err != nil {
		return nil, fmt.Errorf("twoskip: encode dummy: %w", err)
	}
	if _, err := f.Append(dummyBuf); err != nil {
		return nil, err
	}
	hdr.CurrentSize = f.Size()
	if err := f.WriteAt(0, header.Encode(hdr)); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return hdr, nil
}

// runRecovery attempts recovery1 and falls back to recovery2 when it
// fails, per spec §4.8.
func runRecovery(path string, f *mmapfile.File, hdr *header.Header, cmp engine.Comparator, log logging.Logger) (*mmapfile.File, *header.Header, error) {
	if err := recovery.Recovery1(f, hdr, log); err == nil {
		return f, hdr, nil
	} else {
		log.Warnf(logging.NSRecovery+"%s: recovery1 failed (%v), attempting recovery2", path, err)
	}
	newFile, newHdr, err := recovery.Recovery2(path, f, hdr, cmp, log)
	if err != nil {
		return nil, nil, err
	}
	return newFile, newHdr, nil
}

func (db *DB) engineOptions() engine.Options {
	var filter engine.NegativeFilter
	if db.filter != nil {
		filter = db.filter
	}
	return engine.Options{
		Comparator:              db.cmp,
		Logger:                  db.log,
		LevelSeed:               db.opts.LevelSeed,
		ValueCompression:        db.opts.Compression,
		ValueCompressionMinSize: db.opts.CompressionMinSize,
		Filter:                  filter,
		MinRewrite:              db.opts.MinRewrite,
		RewriteRatio:            db.opts.RewriteRatio,
		AbortRecovery:           recovery.Recovery1,
	}
}

// rebuildFilterLocked repopulates the Bloom filter from a full key scan.
// Callers must hold db.mu and an appropriate file lock.
func (db *DB) rebuildFilterLocked() {
	if db.filter == nil {
		return
	}
	db.filter.Reset()
	if db.hdr.NumRecords < db.opts.BloomFilterMinRecords {
		return
	}
	_, _ = db.eng.Foreach(nil, nil, func(key, _ []byte) (int, error) {
		db.filter.Add(key)
		return 0, nil
	}, engine.LockOps{})
}

// maybeRecoverLocked repairs a dirty file discovered while db.mu and an
// exclusive file lock are already held.
func (db *DB) maybeRecoverLocked() error {
	if !db.hdr.Dirty() && db.hdr.CurrentSize == db.file.Size() {
		return nil
	}
	f, hdr, err := runRecovery(db.path, db.file, db.hdr, db.cmp, db.log)
	if err != nil {
		return wrapIO(err)
	}
	db.file = f
	db.hdr = hdr
	db.eng = engine.New(f, hdr, db.engineOptions())
	if db.filter != nil {
		db.rebuildFilterLocked()
	}
	return nil
}

// withRead implements spec §5's read-side locking discipline: shared
// lock, verify header, upgrade-recover-downgrade if dirty, run fn, unlock.
func (db *DB) withRead(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.file.RLock(); err != nil {
		return wrapIO(err)
	}
	if db.hdr.Dirty() || db.hdr.CurrentSize != db.file.Size() {
		if err := db.file.Unlock(); err != nil {
			return wrapIO(err)
		}
		if err := db.file.Lock(); err != nil {
			return wrapIO(err)
		}
		if err := db.maybeRecoverLocked(); err != nil {
			_ = db.file.Unlock()
			return err
		}
		if err := db.file.Unlock(); err != nil {
			return wrapIO(err)
		}
		if err := db.file.RLock(); err != nil {
			return wrapIO(err)
		}
	}
	defer db.file.Unlock()
	return fn()
}

// Close decrements this path's refcount, closing the underlying file once
// no other in-process caller holds it.
func (db *DB) Close() error {
	return handles.Close(db.path, func(d *DB) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.file.Close()
	})
}

// Fetch returns the current value for key, or ErrNotFound.
func (db *DB) Fetch(key []byte) ([]byte, error) {
	var val []byte
	err := db.withRead(func() error {
		v, err := db.eng.Fetch(key)
		if err != nil {
			return err
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, wrapIO(err)
}

// FetchNext returns the smallest live key >= key and its value, or
// ErrNotFound.
func (db *DB) FetchNext(key []byte) (foundKey, value []byte, err error) {
	err = db.withRead(func() error {
		k, v, ferr := db.eng.FetchNext(key)
		if ferr != nil {
			return ferr
		}
		foundKey = append([]byte(nil), k...)
		value = append([]byte(nil), v...)
		return nil
	})
	return foundKey, value, wrapIO(err)
}

// Foreach walks every live key with the given prefix in ascending
// comparator order, releasing both the in-process mutex and the file
// read lock for the duration of each callback invocation so the callback
// may re-enter the database (spec §4.6).
func (db *DB) Foreach(prefix []byte, good engine.GoodFunc, cb engine.CallbackFunc) (int, error) {
	db.mu.Lock()
	if err := db.file.RLock(); err != nil {
		db.mu.Unlock()
		return 0, wrapIO(err)
	}
	if db.hdr.Dirty() || db.hdr.CurrentSize != db.file.Size() {
		_ = db.file.Unlock()
		if err := db.file.Lock(); err != nil {
			db.mu.Unlock()
			return 0, wrapIO(err)
		}
		if err := db.maybeRecoverLocked(); err != nil {
			_ = db.file.Unlock()
			db.mu.Unlock()
			return 0, err
		}
		_ = db.file.Unlock()
		if err := db.file.RLock(); err != nil {
			db.mu.Unlock()
			return 0, wrapIO(err)
		}
	}

	ops := engine.LockOps{
		Release: func() error {
			err := db.file.Unlock()
			db.mu.Unlock()
			return err
		},
		Reacquire: func() error {
			db.mu.Lock()
			return db.file.RLock()
		},
	}
	result, err := db.eng.Foreach(prefix, good, cb, ops)
	_ = db.file.Unlock()
	db.mu.Unlock()
	return result, wrapIO(err)
}

// Store inserts or overwrites key in its own auto-committed transaction.
func (db *DB) Store(key, val []byte, force bool) error {
	t, err := db.Begin()
	if err != nil {
		return err
	}
	if err := t.Store(key, val, force); err != nil {
		_ = t.Abort()
		return wrapIO(err)
	}
	return wrapIO(t.Commit())
}

// Delete removes key in its own auto-committed transaction.
func (db *DB) Delete(key []byte, force bool) error {
	t, err := db.Begin()
	if err != nil {
		return err
	}
	if err := t.Delete(key, force); err != nil {
		_ = t.Abort()
		return wrapIO(err)
	}
	return wrapIO(t.Commit())
}

// Check runs the skip list consistency check (spec §4.9) over the
// current file without modifying it.
func (db *DB) Check() error {
	return wrapIO(db.withRead(func() error {
		return checkpoint.Check(db.file, db.cmp)
	}))
}

// Checkpoint forces an online checkpoint regardless of the repack
// heuristic.
func (db *DB) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.file.Lock(); err != nil {
		return wrapIO(err)
	}
	defer db.file.Unlock()
	if err := db.maybeRecoverLocked(); err != nil {
		return err
	}
	return wrapIO(db.runCheckpointLocked())
}

func (db *DB) runCheckpointLocked() error {
	res, err := checkpoint.Run(db.path, db.file, db.eng, db.cmp, db.log, db.engineOptions())
	if err != nil {
		return err
	}
	db.file = res.File
	db.hdr = res.Header
	db.eng = res.Engine
	if db.filter != nil {
		db.rebuildFilterLocked()
	}
	return nil
}
