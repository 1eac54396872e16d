// Package checkpoint implements twoskip's online checkpoint: rewriting
// every live record into a fresh file in key order, verifying consistency
// on both sides, and swapping the new file in via atomic rename.
//
// Reference: grounded on the teacher's top-level checkpoint.go (temp file,
// consistency pass, atomic rename) and
// calvinalkan-agent-task/pkg/fs/atomic_write.go's rename-then-fsync-dir
// sequence, reused here through internal/mmapfile.Rename.
package checkpoint

import (
	"errors"
	"fmt"
	"os"

	"github.com/aalhour/twoskipdb/internal/engine"
	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/skiplist"
)

// ErrInconsistent is returned by Check when the skip list violates one of
// its structural invariants.
var ErrInconsistent = errors.New("checkpoint: consistency check failed")

func getLevel0(nextloc []uint64) uint64 {
	a, b := nextloc[0], uint64(0)
	if len(nextloc) > 1 {
		b = nextloc[1]
	}
	if a > b {
		return a
	}
	return b
}

func forwardAt(rec *record.Record, level int) uint64 {
	if level < 1 || level > int(rec.Level) {
		return 0
	}
	if level == 1 {
		return getLevel0(rec.NextLoc)
	}
	return rec.NextLoc[level]
}

// Check walks the skip list end to end at every level, verifying strict
// key order at level 1 and that each level's chain terminates at a zero
// pointer, per spec §4.9.
func Check(file *mmapfile.File, cmp engine.Comparator) error {
	dummy, err := record.ReadHead(file, engine.DummyOffset)
	if err != nil {
		return fmt.Errorf("%w: read dummy: %v", ErrInconsistent, err)
	}

	var prevKey []byte
	cur := dummy
	for {
		fwd := forwardAt(cur, 1)
		if fwd == 0 {
			break
		}
		rec, err := record.ReadHead(file, fwd)
		if err != nil {
			return fmt.Errorf("%w: read record at %d: %v", ErrInconsistent, fwd, err)
		}
		key, err := record.PeekKey(file, rec)
		if err != nil {
			return fmt.Errorf("%w: peek key at %d: %v", ErrInconsistent, fwd, err)
		}
		if prevKey != nil && cmp(prevKey, key) >= 0 {
			return fmt.Errorf("%w: keys out of order at offset %d", ErrInconsistent, fwd)
		}
		prevKey = key
		cur = rec
	}

	for level := 2; level <= skiplist.MaxLevel; level++ {
		node := dummy
		for {
			fwd := forwardAt(node, level)
			if fwd == 0 {
				break
			}
			rec, err := record.ReadHead(file, fwd)
			if err != nil {
				return fmt.Errorf("%w: level %d read at %d: %v", ErrInconsistent, level, fwd, err)
			}
			if rec.NextLoc[level] != 0 {
				next, err := record.ReadHead(file, rec.NextLoc[level])
				if err != nil {
					return fmt.Errorf("%w: level %d read at %d: %v", ErrInconsistent, level, rec.NextLoc[level], err)
				}
				if int(next.Level) < level {
					return fmt.Errorf("%w: level %d pointer lands on a record too short", ErrInconsistent, level)
				}
			}
			node = rec
		}
	}
	return nil
}

// Result describes the fresh file and engine a successful Run produced.
// The caller must adopt these in place of whatever it held before, and
// must not reuse the old *mmapfile.File or *header.Header.
type Result struct {
	File   *mmapfile.File
	Header *header.Header
	Engine *engine.Engine
}

// Run performs an online checkpoint: consistency-check the old file,
// rewrite every live key/value pair into a fresh file in key order inside
// a single transaction, consistency-check the new file, bump generation,
// and atomically rename the new file over path.
func Run(path string, oldFile *mmapfile.File, oldEng *engine.Engine, cmp engine.Comparator, log logging.Logger, engOpts engine.Options) (*Result, error) {
	log = logging.OrDefault(log)

	if err := Check(oldFile, cmp); err != nil {
		return nil, err
	}

	newPath := path + ".NEW"
	newFile, err := mmapfile.Open(newPath, true)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", newPath, err)
	}
	abortCleanup := func() {
		_ = newFile.Close()
		_ = os.Remove(newPath)
	}

	newHdr := header.New()
	newHdr.Generation = oldEng.Header().Generation + 1

	dummyLoc := make([]uint64, skiplist.MaxLevel+1)
	dummyBuf, err := record.Encode(record.Dummy, skiplist.MaxLevel, nil, nil, dummyLoc)
	if err != nil {
		abortCleanup()
		return nil, fmt.Errorf("checkpoint: encode dummy: %w", err)
	}
	if _, err := newFile.Append(dummyBuf); err != nil {
		abortCleanup()
		return nil, err
	}
	newHdr.CurrentSize = newFile.Size()
	if err := newFile.WriteAt(0, header.Encode(newHdr)); err != nil {
		abortCleanup()
		return nil, err
	}

	newEngOpts := engOpts
	newEngOpts.Comparator = cmp
	newEngOpts.Logger = log
	newEng := engine.New(newFile, newHdr, newEngOpts)

	var walkErr error
	_, err = oldEng.Foreach(nil, nil, func(key, value []byte) (int, error) {
		if storeErr := newEng.Store(key, value, true); storeErr != nil {
			walkErr = storeErr
			return -1, storeErr
		}
		return 0, nil
	}, engine.LockOps{})
	if err != nil {
		abortCleanup()
		return nil, fmt.Errorf("checkpoint: rewrite live records: %w", err)
	}
	if walkErr != nil {
		abortCleanup()
		return nil, walkErr
	}

	if _, err := newEng.Commit(); err != nil {
		abortCleanup()
		return nil, fmt.Errorf("checkpoint: commit new file: %w", err)
	}
	newHdr.RepackSize = newHdr.CurrentSize
	if err := newFile.WriteAt(0, header.Encode(newHdr)); err != nil {
		abortCleanup()
		return nil, err
	}
	if err := newFile.Sync(); err != nil {
		abortCleanup()
		return nil, err
	}

	if err := Check(newFile, cmp); err != nil {
		abortCleanup()
		return nil, err
	}

	if err := mmapfile.Rename(newPath, path); err != nil {
		abortCleanup()
		return nil, fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	if err := oldFile.Close(); err != nil {
		log.Warnf(logging.NSCheckpoint+"close old file after checkpoint: %v", err)
	}

	log.Infof(logging.NSCheckpoint+"checkpoint complete: generation %d -> %d, %d live records, %d bytes",
		newHdr.Generation-1, newHdr.Generation, newHdr.NumRecords, newHdr.CurrentSize)

	return &Result{File: newFile, Header: newHdr, Engine: newEng}, nil
}
