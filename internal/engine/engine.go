// Package engine implements twoskip's find/store/delete/stitch algorithms,
// the dirty-flag write protocol, and transaction commit/abort over a
// single open database file. It assumes the file has already been opened,
// mapped, and recovered if necessary (internal/recovery) — the engine
// itself never repairs a dirty file on its own, only on abort of its own
// transaction.
//
// Reference: grounded directly on original_source/lib/cyrusdb_twoskip.c's
// find_loc/store_here/stitch trio, expressed in the teacher's style of
// small, separately testable methods over a shared handle (db/db.go).
package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/skiplist"
	"github.com/aalhour/twoskipdb/internal/valuecodec"
	"github.com/zeebo/xxh3"
)

// AbortRecovery repairs a file whose transaction is being abandoned,
// pruning pointers past current_size and truncating back to it. Wired by
// the caller to internal/recovery.Recovery1 — passed as a function value
// rather than imported directly so that internal/recovery is free to
// import internal/engine for its own catastrophic-rebuild replay without
// creating an import cycle.
type AbortRecovery func(file *mmapfile.File, hdr *header.Header, log logging.Logger) error

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("engine: not found")

// ErrExists is returned by Store on a duplicate key without force.
var ErrExists = errors.New("engine: key exists")

// ErrRejecting is returned by Fetch, FetchNext, Foreach, Store and Delete
// once a handle has entered the double-fault state (commit failed, then
// abort also failed).
var ErrRejecting = errors.New("engine: handle rejecting writes after unrecoverable commit failure")

// NegativeFilter is the optional accelerator interface an engine consults
// before descending the skip list. A negative answer is authoritative; a
// positive answer is not (it may be a false positive, or simply stale).
type NegativeFilter interface {
	MightContain(key []byte) bool
	Add(key []byte)
	Remove(key []byte)
	Reset()
}

// Options configures an Engine. Zero value is not useful; use
// DefaultOptions and override fields.
type Options struct {
	Comparator              Comparator
	Logger                  logging.Logger
	LevelSeed               int64
	ValueCompression        valuecodec.Type
	ValueCompressionMinSize int
	Filter                  NegativeFilter
	MinRewrite              uint64
	RewriteRatio            float64
	AbortRecovery           AbortRecovery
}

// DefaultOptions returns the tunables from spec §6.3: MINREWRITE=16384,
// REWRITE_RATIO=0.2, raw byte comparator, no compression, no filter.
func DefaultOptions() Options {
	return Options{
		Comparator:   Comparator(bytes.Compare),
		Logger:       logging.Discard,
		LevelSeed:    0,
		MinRewrite:   16384,
		RewriteRatio: 0.2,
	}
}

// Engine drives one open, recovered database file. It is not safe for
// concurrent use; the caller (db.go) serializes access through advisory
// file locks, matching spec §5's single-writer model.
type Engine struct {
	file *mmapfile.File
	hdr  *header.Header
	cmp  Comparator
	log  logging.Logger

	levels *skiplist.LevelPicker
	loc    skiplist.Skiploc

	valType    valuecodec.Type
	valMinSize int
	filter     NegativeFilter

	minRewrite   uint64
	rewriteRatio float64
	abortRecover AbortRecovery

	txnOpen      bool
	txnSerial    uint64
	txnStartSize uint64
	rejecting    bool
}

// New constructs an Engine over an already-open, already-recovered file.
func New(file *mmapfile.File, hdr *header.Header, opts Options) *Engine {
	if opts.Comparator == nil {
		opts.Comparator = Comparator(bytes.Compare)
	}
	log := logging.OrDefault(opts.Logger)
	return &Engine{
		file:         file,
		hdr:          hdr,
		cmp:          opts.Comparator,
		log:          log,
		levels:       skiplist.NewLevelPicker(opts.LevelSeed),
		valType:      opts.ValueCompression,
		valMinSize:   opts.ValueCompressionMinSize,
		filter:       opts.Filter,
		minRewrite:   opts.MinRewrite,
		rewriteRatio: opts.RewriteRatio,
		abortRecover: opts.AbortRecovery,
	}
}

// Header returns the engine's in-memory header mirror. Callers must not
// mutate it directly.
func (e *Engine) Header() *header.Header { return e.hdr }

func (e *Engine) currentSize() uint64 { return e.hdr.CurrentSize }

// flushHeader encodes and writes the header in place and fsyncs it. Per
// spec §3.2, the header is a single aligned 64-byte write, assumed
// atomic by the filesystem.
func (e *Engine) flushHeader() error {
	buf := header.Encode(e.hdr)
	if err := e.file.WriteAt(0, buf); err != nil {
		return fmt.Errorf("engine: write header: %w", err)
	}
	return e.file.Sync()
}

// ensureDirty implements the DIRTY management guard from spec §4.5: before
// the first write of a transaction, set DIRTY and fsync the header.
func (e *Engine) ensureDirty() error {
	if e.hdr.Dirty() {
		return nil
	}
	e.hdr.SetDirty(true)
	return e.flushHeader()
}

func (e *Engine) beginTxn() {
	if !e.txnOpen {
		e.txnOpen = true
		e.txnSerial++
		e.txnStartSize = e.hdr.CurrentSize
	}
}

// locate finds the smallest live record with key >= target, reusing the
// Skiploc cache on an exact repeat lookup (spec §4.3 fast path 1) and
// falling back to a full relocate otherwise.
func (e *Engine) locate(target []byte) (*loc, error) {
	gen, end := e.hdr.Generation, e.file.Size()
	targetHash := xxh3.Hash(target)
	if e.loc.Fresh(gen, end) && e.loc.KeyHash == targetHash && e.cmp(e.loc.Key, target) == 0 {
		l := &loc{key: append([]byte(nil), target...), exact: e.loc.IsExactMatch}
		l.back = e.loc.BackLoc
		l.forward = e.loc.ForwardLoc
		if l.exact {
			rec, err := record.ReadHead(e.file, e.loc.RecordOffset)
			if err != nil {
				return nil, err
			}
			if err := record.ReadTail(e.file, rec); err != nil {
				return nil, err
			}
			l.rec = rec
		}
		return l, nil
	}
	l, err := e.relocate(target)
	if err != nil {
		return nil, err
	}
	offset := uint64(0)
	if l.exact {
		offset = l.forward[1]
	}
	e.loc.Store(target, l.exact, offset, l.back, l.forward, gen, end)
	return l, nil
}

// advance moves from cur to the next live record: the level-1 successor of
// cur.rec when cur holds a record, else the one at cur.forward[1]. It
// reuses backlocs for levels above the new record's own level and
// rebuilds them for levels at or below it (spec §4.3 fast path 3).
func (e *Engine) advance(cur *loc) (*loc, error) {
	nextOff := cur.forward[1]
	if cur.rec != nil {
		nextOff = forwardAt(cur.rec, 1, false, e.file.Size())
	}
	if nextOff == 0 {
		return &loc{exact: false}, nil
	}
	rec, err := record.ReadHead(e.file, nextOff)
	if err != nil {
		return nil, err
	}
	key, err := record.PeekKey(e.file, rec)
	if err != nil {
		return nil, err
	}
	nl := &loc{key: append([]byte(nil), key...), exact: true, rec: rec}
	nl.back = cur.back
	nl.forward = cur.forward
	size := e.file.Size()
	for level := 1; level <= int(rec.Level) && level <= skiplist.MaxLevel; level++ {
		nl.back[level] = nextOff
		nl.forward[level] = forwardAt(rec, level, false, size)
	}
	return nl, nil
}

// Fetch returns the current value for key, or ErrNotFound.
func (e *Engine) Fetch(key []byte) ([]byte, error) {
	if e.rejecting {
		return nil, ErrRejecting
	}
	if e.filter != nil && !e.filter.MightContain(key) {
		return nil, ErrNotFound
	}
	l, err := e.locate(key)
	if err != nil {
		return nil, err
	}
	if !l.exact {
		return nil, ErrNotFound
	}
	if l.rec.Value == nil {
		if err := record.ReadTail(e.file, l.rec); err != nil {
			return nil, err
		}
	}
	val, err := valuecodec.Decode(l.rec.Value)
	if err != nil {
		return nil, fmt.Errorf("engine: decode value for %q: %w", key, err)
	}
	return val, nil
}

// FetchNext returns the key and value of the smallest live key >= key, or
// ErrNotFound if none exists.
func (e *Engine) FetchNext(key []byte) (foundKey, value []byte, err error) {
	if e.rejecting {
		return nil, nil, ErrRejecting
	}
	l, err := e.locate(key)
	if err != nil {
		return nil, nil, err
	}
	candOffset := l.forward[1]
	if candOffset == 0 {
		return nil, nil, ErrNotFound
	}
	var rec *record.Record
	if l.exact {
		rec = l.rec
	} else {
		rec, err = record.ReadHead(e.file, candOffset)
		if err != nil {
			return nil, nil, err
		}
	}
	if rec.Value == nil {
		if err := record.ReadTail(e.file, rec); err != nil {
			return nil, nil, err
		}
	}
	val, err := valuecodec.Decode(rec.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: decode value: %w", err)
	}
	return rec.Key, val, nil
}

// GoodFunc filters candidate keys during Foreach; a nil GoodFunc accepts
// everything.
type GoodFunc func(key []byte) bool

// CallbackFunc is invoked once per accepted key in comparator order. A
// nonzero result short-circuits the walk and becomes Foreach's return
// value, matching spec §6.2's "callback's first non-zero result, else 0".
type CallbackFunc func(key, value []byte) (result int, err error)

// LockOps lets Foreach release and reacquire the caller's read lock around
// each callback invocation, per spec §4.6: "while cb runs, the read lock
// is released to permit the callback to re-enter the database".
type LockOps struct {
	Release   func() error
	Reacquire func() error
}

// Foreach walks every live key with the given prefix in ascending order.
func (e *Engine) Foreach(prefix []byte, good GoodFunc, cb CallbackFunc, ops LockOps) (int, error) {
	if e.rejecting {
		return 0, ErrRejecting
	}
	l, err := e.locate(prefix)
	if err != nil {
		return 0, err
	}
	for {
		var rec *record.Record
		var key []byte
		if l.exact {
			rec, key = l.rec, l.key
		} else {
			if l.forward[1] == 0 {
				return 0, nil
			}
			rec, err = record.ReadHead(e.file, l.forward[1])
			if err != nil {
				return 0, err
			}
			key, err = record.PeekKey(e.file, rec)
			if err != nil {
				return 0, err
			}
		}
		if !bytes.HasPrefix(key, prefix) {
			return 0, nil
		}
		if good == nil || good(key) {
			if err := record.ReadTail(e.file, rec); err != nil {
				return 0, err
			}
			val, err := valuecodec.Decode(rec.Value)
			if err != nil {
				return 0, fmt.Errorf("engine: decode value for %q: %w", key, err)
			}
			gen, end := e.hdr.Generation, e.file.Size()
			if ops.Release != nil {
				if err := ops.Release(); err != nil {
					return 0, err
				}
			}
			result, cbErr := cb(key, val)
			if ops.Reacquire != nil {
				if err := ops.Reacquire(); err != nil {
					return 0, err
				}
			}
			if cbErr != nil {
				return 0, cbErr
			}
			if result != 0 {
				return result, nil
			}
			if e.hdr.Generation != gen || e.file.Size() != end {
				restored, err := e.locate(key)
				if err != nil {
					return 0, err
				}
				if restored.exact && bytes.Equal(restored.key, key) {
					// The key the callback just saw is still present;
					// advance past it since its callback already ran.
					nl, err := e.advance(restored)
					if err != nil {
						return 0, err
					}
					l = nl
				} else {
					// The key vanished (the callback deleted it); restored
					// already names the next candidate.
					l = restored
				}
				continue
			}
		}
		nl, err := e.advance(&loc{rec: rec, forward: l.forward})
		if err != nil {
			return 0, err
		}
		l = nl
	}
}

// Store inserts or overwrites key. Without force, storing over an
// existing key fails with ErrExists. With force, a byte-identical
// overwrite (after the value codec) is a silent no-op.
func (e *Engine) Store(key, val []byte, force bool) error {
	if e.rejecting {
		return ErrRejecting
	}
	l, err := e.locate(key)
	if err != nil {
		return err
	}
	encoded, err := valuecodec.Encode(e.valType, e.valMinSize, val)
	if err != nil {
		return fmt.Errorf("engine: encode value: %w", err)
	}

	if l.exact {
		if !force {
			return ErrExists
		}
		if l.rec.Value == nil {
			if err := record.ReadTail(e.file, l.rec); err != nil {
				return err
			}
		}
		if bytes.Equal(encoded, l.rec.Value) {
			return nil
		}
		if err := e.ensureDirty(); err != nil {
			return err
		}
		e.beginTxn()
		nextloc := append([]uint64(nil), l.rec.NextLoc...)
		buf, err := record.Encode(record.Live, l.rec.Level, key, encoded, nextloc)
		if err != nil {
			return fmt.Errorf("engine: encode record: %w", err)
		}
		newOffset, err := e.file.Append(buf)
		if err != nil {
			return err
		}
		if err := e.stitch(l.back, l.rec.Level, newOffset); err != nil {
			return err
		}
		e.loc.Reset()
		return nil
	}

	if err := e.ensureDirty(); err != nil {
		return err
	}
	e.beginTxn()
	level := e.levels.Pick()
	nextloc := make([]uint64, level+1)
	for i := 1; i <= int(level); i++ {
		nextloc[i] = l.forward[i]
	}
	nextloc[0] = nextloc[1]

	buf, err := record.Encode(record.Live, level, key, encoded, nextloc)
	if err != nil {
		return fmt.Errorf("engine: encode record: %w", err)
	}
	newOffset, err := e.file.Append(buf)
	if err != nil {
		return err
	}
	if err := e.stitch(l.back, level, newOffset); err != nil {
		return err
	}
	e.hdr.NumRecords++
	if e.filter != nil {
		e.filter.Add(key)
	}
	e.loc.Reset()
	return nil
}

// Delete removes key. Without force, deleting an absent key fails with
// ErrNotFound. With force, deleting an absent key is a no-op.
func (e *Engine) Delete(key []byte, force bool) error {
	if e.rejecting {
		return ErrRejecting
	}
	l, err := e.locate(key)
	if err != nil {
		return err
	}
	if !l.exact {
		if force {
			return nil
		}
		return ErrNotFound
	}
	if err := e.ensureDirty(); err != nil {
		return err
	}
	e.beginTxn()

	size := e.file.Size()
	for level := 1; level <= int(l.rec.Level); level++ {
		newForward := forwardAt(l.rec, level, false, size)
		predOffset := l.back[level]
		pred, err := record.ReadHead(e.file, predOffset)
		if err != nil {
			return err
		}
		if level == 1 {
			setLevel0(pred.NextLoc, newForward, e.currentSize())
		} else {
			pred.NextLoc[level] = newForward
		}
		headBuf := record.EncodeHead(pred)
		if err := e.file.WriteAt(predOffset, headBuf); err != nil {
			return err
		}
	}

	tomb, err := record.Encode(record.Tombstone, 0, key, nil, []uint64{0})
	if err != nil {
		return fmt.Errorf("engine: encode tombstone: %w", err)
	}
	if _, err := e.file.Append(tomb); err != nil {
		return err
	}
	if e.hdr.NumRecords > 0 {
		e.hdr.NumRecords--
	}
	if e.filter != nil {
		e.filter.Remove(key)
	}
	e.loc.Reset()
	return nil
}

// stitch rewrites the heads of the predecessors recorded in back, for
// every level from 1 up to newLevel, so their forward pointers land on
// newOffset. Level 1 goes through the dual-pointer rule.
func (e *Engine) stitch(back [skiplist.MaxLevel + 1]uint64, newLevel uint8, newOffset uint64) error {
	for level := 1; level <= int(newLevel); level++ {
		predOffset := back[level]
		pred, err := record.ReadHead(e.file, predOffset)
		if err != nil {
			return err
		}
		if level == 1 {
			setLevel0(pred.NextLoc, newOffset, e.currentSize())
		} else {
			pred.NextLoc[level] = newOffset
		}
		headBuf := record.EncodeHead(pred)
		if err := e.file.WriteAt(predOffset, headBuf); err != nil {
			return err
		}
	}
	return nil
}

// Commit closes out the current transaction: appends a COMMIT record,
// fsyncs, updates current_size and clears DIRTY, fsyncs again. A
// transaction with no writes is a no-op. NeedsCheckpoint reports whether
// the caller should run a checkpoint immediately afterward.
func (e *Engine) Commit() (needsCheckpoint bool, err error) {
	if !e.txnOpen {
		return false, nil
	}
	if !e.hdr.Dirty() {
		e.txnOpen = false
		return false, nil
	}

	commitBuf, err := record.Encode(record.Commit, 0, nil, nil, []uint64{e.txnStartSize})
	if err != nil {
		return false, e.commitFailed(fmt.Errorf("engine: encode commit record: %w", err))
	}
	if _, err := e.file.Append(commitBuf); err != nil {
		return false, e.commitFailed(err)
	}
	if err := e.file.Sync(); err != nil {
		return false, e.commitFailed(err)
	}

	e.hdr.CurrentSize = e.file.Size()
	e.hdr.SetDirty(false)
	if err := e.flushHeader(); err != nil {
		return false, e.commitFailed(err)
	}

	e.txnOpen = false
	e.loc.Reset()
	return e.needsCheckpoint(), nil
}

// commitFailed implements spec §7's propagation rule: "a commit that
// fails triggers an automatic abort; if both fail, a loud log message is
// emitted but no attempt is made to continue".
func (e *Engine) commitFailed(commitErr error) error {
	if abortErr := e.Abort(); abortErr != nil {
		e.rejecting = true
		e.log.Fatalf(logging.NSEngine+"commit failed (%v) and automatic abort also failed (%v); handle %p will reject further writes", commitErr, abortErr, e)
		return fmt.Errorf("engine: commit failed: %w (abort also failed: %v)", commitErr, abortErr)
	}
	return fmt.Errorf("engine: commit failed, transaction aborted: %w", commitErr)
}

func (e *Engine) needsCheckpoint() bool {
	if e.hdr.CurrentSize <= e.hdr.RepackSize {
		return false
	}
	grew := e.hdr.CurrentSize - e.hdr.RepackSize
	if grew <= e.minRewrite {
		return false
	}
	ratio := float64(grew) / float64(e.hdr.CurrentSize)
	return ratio > e.rewriteRatio
}

// Abort discards the current transaction: recovery1 prunes any pointers
// pointing past current_size and truncates the file back to it.
func (e *Engine) Abort() error {
	if !e.txnOpen {
		return nil
	}
	e.txnOpen = false
	e.loc.Reset()
	if !e.hdr.Dirty() {
		return nil
	}
	if e.abortRecover == nil {
		return fmt.Errorf("engine: abort requires AbortRecovery but none was configured")
	}
	if err := e.abortRecover(e.file, e.hdr, e.log); err != nil {
		return fmt.Errorf("engine: abort recovery1: %w", err)
	}
	return nil
}
