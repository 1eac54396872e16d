// Package recovery implements twoskip's two-stage crash recovery:
// recovery1, an in-place pointer repair that runs on every dirty open or
// transaction abort, and recovery2, a catastrophic rebuild invoked only
// when recovery1 itself cannot make sense of the file.
//
// Reference: grounded on original_source/lib/cyrusdb_twoskip.c's
// recovery() and repack() functions; expressed as two small top-level
// functions rather than methods, since recovery runs before an Engine
// exists (it operates directly on the mapped file and header, the way
// the teacher's top-level checkpoint.go operates on *DB directly).
package recovery

import (
	"fmt"

	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
)

// DummyOffset is the fixed offset of the sentinel DUMMY record.
const DummyOffset = uint64(header.Size)

const maxSlots = 32 // MaxLevel(31) + 1

// getLevel0 mirrors internal/engine's dual-pointer read rule. It is
// duplicated rather than imported to keep recovery free of any dependency
// on the engine package, since recovery must be constructible before an
// Engine exists.
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

func writeHead(file *mmapfile.File, rec *record.Record) error {
	return file.WriteAt(rec.Offset, record.EncodeHead(rec))
}

func flushHeader(file *mmapfile.File, hdr *header.Header) error {
	if err := file.WriteAt(0, header.Encode(hdr)); err != nil {
		return fmt.Errorf("recovery: write header: %w", err)
	}
	return file.Sync()
}

// Recovery1 performs the in-place pointer repair described in spec §4.8.1.
// The caller must hold the writelock on file.
func Recovery1(file *mmapfile.File, hdr *header.Header, log logging.Logger) error {
	log = logging.OrDefault(log)
	if !hdr.Dirty() {
		hdr.SetDirty(true)
	}
	if err := flushHeader(file, hdr); err != nil {
		return err
	}

	dummy, err := record.ReadHead(file, DummyOffset)
	if err != nil {
		return fmt.Errorf("recovery1: read dummy: %w", err)
	}

	var prev, next [maxSlots]uint64
	for i := range prev {
		prev[i] = DummyOffset
	}
	for i := 0; i < len(dummy.NextLoc) && i < maxSlots; i++ {
		next[i] = dummy.NextLoc[i]
	}

	currentSize := hdr.CurrentSize

	dummyDirty := false
	for i := 0; i <= 1 && i < len(dummy.NextLoc); i++ {
		if dummy.NextLoc[i] >= currentSize {
			dummy.NextLoc[i] = 0
			dummyDirty = true
		}
	}
	if dummyDirty {
		if err := writeHead(file, dummy); err != nil {
			return err
		}
	}

	cur := dummy
	visited := 0

	for {
		fwd := getLevel0(cur.NextLoc, true, currentSize)
		if fwd == 0 {
			break
		}
		rec, err := record.ReadHead(file, fwd)
		if err != nil {
			return fmt.Errorf("recovery1: read record at %d: %w", fwd, err)
		}
		visited++

		for i := 2; i <= int(rec.Level) && i < maxSlots; i++ {
			if next[i] != fwd {
				predRec, err := record.ReadHead(file, prev[i])
				if err != nil {
					return fmt.Errorf("recovery1: read predecessor at %d: %w", prev[i], err)
				}
				predRec.NextLoc[i] = fwd
				if err := writeHead(file, predRec); err != nil {
					return err
				}
			}
			prev[i] = fwd
			if i < len(rec.NextLoc) {
				next[i] = rec.NextLoc[i]
			} else {
				next[i] = 0
			}
		}

		dirty := false
		for i := 0; i <= 1 && i < len(rec.NextLoc); i++ {
			if rec.NextLoc[i] >= currentSize {
				rec.NextLoc[i] = 0
				dirty = true
			}
		}
		if dirty {
			if err := writeHead(file, rec); err != nil {
				return err
			}
		}

		cur = rec
	}

	for i := 2; i < maxSlots; i++ {
		if next[i] != 0 {
			predRec, err := record.ReadHead(file, prev[i])
			if err != nil {
				return fmt.Errorf("recovery1: tail cleanup read at %d: %w", prev[i], err)
			}
			predRec.NextLoc[i] = 0
			if err := writeHead(file, predRec); err != nil {
				return err
			}
		}
	}

	if err := file.Truncate(currentSize); err != nil {
		return fmt.Errorf("recovery1: truncate to %d: %w", currentSize, err)
	}
	if err := file.Sync(); err != nil {
		return err
	}

	count, err := CountLive(file)
	if err != nil {
		return fmt.Errorf("recovery1: recount: %w", err)
	}
	hdr.NumRecords = count
	hdr.SetDirty(false)
	if err := flushHeader(file, hdr); err != nil {
		return err
	}
	log.Infof(logging.NSRecovery+"recovery1 complete: %d records visited, %d live", visited, count)
	return nil
}

// CountLive walks the clean level-1 chain from DUMMY and counts the live
// records on it. Only RECORD entries are ever spliced into that chain;
// DELETE and COMMIT records are appended inline but never linked, so a
// chain walk naturally excludes them.
func CountLive(file *mmapfile.File) (uint64, error) {
	dummy, err := record.ReadHead(file, DummyOffset)
	if err != nil {
		return 0, err
	}
	cur := dummy
	var count uint64
	for {
		fwd := getLevel0(cur.NextLoc, false, 0)
		if fwd == 0 {
			return count, nil
		}
		rec, err := record.ReadHead(file, fwd)
		if err != nil {
			return 0, fmt.Errorf("count live at %d: %w", fwd, err)
		}
		count++
		cur = rec
	}
}
