package recovery

import (
	"fmt"
	"os"

	"github.com/aalhour/twoskipdb/internal/engine"
	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/skiplist"
	"github.com/aalhour/twoskipdb/internal/valuecodec"
)

// Recovery2 performs the catastrophic rebuild described in spec §4.8.2:
// linearly scan the original file for intact COMMIT records and replay
// the transactions they close into a fresh file, then swap it in. It is
// invoked only when Recovery1 itself fails.
//
// On success it returns the new, already-renamed-into-place file and
// header; the caller must adopt them in place of the old ones. oldFile is
// closed by Recovery2 regardless of outcome.
func Recovery2(path string, oldFile *mmapfile.File, oldHdr *header.Header, cmp engine.Comparator, log logging.Logger) (*mmapfile.File, *header.Header, error) {
	log = logging.OrDefault(log)
	defer oldFile.Close()

	newPath := path + ".NEW"
	newFile, err := mmapfile.Open(newPath, true)
	if err != nil {
		return nil, nil, fmt.Errorf("recovery2: open %s: %w", newPath, err)
	}
	newHdr := header.New()
	newHdr.Generation = oldHdr.Generation + 1

	dummyLoc := make([]uint64, skiplist.MaxLevel+1)
	dummyBuf, err := record.Encode(record.Dummy, skiplist.MaxLevel, nil, nil, dummyLoc)
	if err != nil {
		_ = newFile.Close()
		return nil, nil, fmt.Errorf("recovery2: encode dummy: %w", err)
	}
	if _, err := newFile.Append(dummyBuf); err != nil {
		_ = newFile.Close()
		return nil, nil, err
	}
	newHdr.CurrentSize = newFile.Size()
	if err := newFile.WriteAt(0, header.Encode(newHdr)); err != nil {
		_ = newFile.Close()
		return nil, nil, err
	}
	if err := newFile.Sync(); err != nil {
		_ = newFile.Close()
		return nil, nil, err
	}

	eng := engine.New(newFile, newHdr, engine.Options{Comparator: cmp, Logger: log})

	replayed, txns := scanAndReplay(oldFile, eng, log)
	log.Infof(logging.NSRecovery+"recovery2 scanned %s: %d transactions replayed, %d records live", path, txns, newHdr.NumRecords)

	if newHdr.NumRecords == 0 {
		_ = newFile.Close()
		_ = os.Remove(newPath)
		return nil, nil, engine.ErrNotFound
	}
	_ = replayed

	if err := mmapfile.Rename(newPath, path); err != nil {
		_ = newFile.Close()
		return nil, nil, fmt.Errorf("recovery2: rename into place: %w", err)
	}
	return newFile, newHdr, nil
}

// scanAndReplay walks oldFile sequentially from the DUMMY record, batching
// RECORD/DELETE entries until it hits a COMMIT whose transaction-start
// back-pointer matches the batch's first offset, then replays the batch
// into eng and commits. It stops at the first record that fails to decode,
// per spec: "on first unreadable region, stop".
func scanAndReplay(oldFile *mmapfile.File, eng *engine.Engine, log logging.Logger) (recordsReplayed, txnsReplayed int) {
	dummy, err := record.Read(oldFile, DummyOffset)
	if err != nil {
		return 0, 0
	}
	offset := dummy.Offset + dummy.TotalLen

	var pending []*record.Record
scan:
	for offset < oldFile.Size() {
		rec, err := record.Read(oldFile, offset)
		if err != nil {
			log.Warnf(logging.NSRecovery+"recovery2 stopping scan at offset %d: %v", offset, err)
			break
		}
		switch rec.Type {
		case record.Live, record.Tombstone:
			pending = append(pending, rec)
			offset += rec.TotalLen
		case record.Commit:
			if len(pending) == 0 || rec.NextLoc[0] != pending[0].Offset {
				break scan
			}
			for _, p := range pending {
				if p.Type == record.Live {
					val, err := valuecodec.Decode(p.Value)
					if err != nil {
						break scan
					}
					if err := eng.Store(p.Key, val, true); err != nil {
						break scan
					}
				} else {
					if err := eng.Delete(p.Key, true); err != nil {
						break scan
					}
				}
				recordsReplayed++
			}
			if _, err := eng.Commit(); err != nil {
				break scan
			}
			txnsReplayed++
			pending = pending[:0]
			offset += rec.TotalLen
		default:
			break scan
		}
	}
	return recordsReplayed, txnsReplayed
}
