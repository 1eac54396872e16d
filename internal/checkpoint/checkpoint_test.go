package checkpoint_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb/internal/checkpoint"
	"github.com/aalhour/twoskipdb/internal/engine"
	"github.com/aalhour/twoskipdb/internal/header"
	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/mmapfile"
	"github.com/aalhour/twoskipdb/internal/record"
	"github.com/aalhour/twoskipdb/internal/skiplist"
)

func newCheckpointFixture(t *testing.T) (path string, f *mmapfile.File, hdr *header.Header, e *engine.Engine) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "test.twoskip")
	f, err := mmapfile.Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	hdr = header.New()
	nextloc := make([]uint64, skiplist.MaxLevel+1)
	dummyBuf, err := record.Encode(record.Dummy, skiplist.MaxLevel, nil, nil, nextloc)
	require.NoError(t, err)
	_, err = f.Append(dummyBuf)
	require.NoError(t, err)
	hdr.CurrentSize = f.Size()
	require.NoError(t, f.WriteAt(0, header.Encode(hdr)))

	e = engine.New(f, hdr, engine.Options{
		Comparator: engine.Comparator(bytes.Compare),
		LevelSeed:  11,
	})
	return path, f, hdr, e
}

func TestCheckPassesOnWellFormedFile(t *testing.T) {
	t.Parallel()

	_, f, _, e := newCheckpointFixture(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Store([]byte(k), []byte(k), false))
	}
	_, err := e.Commit()
	require.NoError(t, err)

	require.NoError(t, checkpoint.Check(f, engine.Comparator(bytes.Compare)))
}

func TestCheckDetectsOutOfOrderKeys(t *testing.T) {
	t.Parallel()

	_, f, _, e := newCheckpointFixture(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, e.Store([]byte(k), []byte(k), false))
	}
	_, err := e.Commit()
	require.NoError(t, err)

	// The committed chain runs dummy -> a -> b -> c. Splice it into
	// dummy -> b -> a -> c, a level-1 order violation Check must catch.
	// A record's level-1 forward pointer is the larger of its two dual
	// slots, so read it that way and overwrite both slots when splicing.
	level1 := func(r *record.Record) uint64 { return max(r.NextLoc[0], r.NextLoc[1]) }
	dummy, err := record.ReadHead(f, engine.DummyOffset)
	require.NoError(t, err)
	aOffset := level1(dummy)
	aRec, err := record.ReadHead(f, aOffset)
	require.NoError(t, err)
	bOffset := level1(aRec)
	bRec, err := record.ReadHead(f, bOffset)
	require.NoError(t, err)
	cOffset := level1(bRec)

	dummy.NextLoc[1] = bOffset
	dummy.NextLoc[0] = dummy.NextLoc[1]
	require.NoError(t, f.WriteAt(dummy.Offset, record.EncodeHead(dummy)))

	bRec.NextLoc[1] = aOffset
	bRec.NextLoc[0] = bRec.NextLoc[1]
	require.NoError(t, f.WriteAt(bRec.Offset, record.EncodeHead(bRec)))

	aRec.NextLoc[1] = cOffset
	aRec.NextLoc[0] = aRec.NextLoc[1]
	require.NoError(t, f.WriteAt(aRec.Offset, record.EncodeHead(aRec)))

	// The chain now reads b, a, c.

	err = checkpoint.Check(f, engine.Comparator(bytes.Compare))
	require.ErrorIs(t, err, checkpoint.ErrInconsistent)
}

func TestRunRewritesIntoFreshFileInKeyOrder(t *testing.T) {
	t.Parallel()

	path, f, hdr, e := newCheckpointFixture(t)
	keys := []string{"z", "m", "a", "q", "b"}
	for _, k := range keys {
		require.NoError(t, e.Store([]byte(k), []byte("v-"+k), false))
	}
	_, err := e.Commit()
	require.NoError(t, err)
	oldGeneration := hdr.Generation

	result, err := checkpoint.Run(path, f, e, engine.Comparator(bytes.Compare), logging.Discard, engine.Options{LevelSeed: 11})
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.File.Close() })

	require.Greater(t, result.Header.Generation, oldGeneration)
	require.Equal(t, result.Header.CurrentSize, result.Header.RepackSize)
	require.EqualValues(t, len(keys), result.Header.NumRecords)
	require.False(t, result.Header.Dirty())

	var seen []string
	_, err = result.Engine.Foreach(nil, nil, func(key, value []byte) (int, error) {
		seen = append(seen, string(key))
		require.Equal(t, "v-"+string(key), string(value))
		return 0, nil
	}, engine.LockOps{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "m", "q", "z"}, seen)

	require.NoError(t, checkpoint.Check(result.File, engine.Comparator(bytes.Compare)))
}

func TestRunOmitsDeletedKeys(t *testing.T) {
	t.Parallel()

	path, f, _, e := newCheckpointFixture(t)
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("key-%03d", i)
		require.NoError(t, e.Store([]byte(k), []byte(k), false))
	}
	_, err := e.Commit()
	require.NoError(t, err)

	for i := 0; i < 20; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		require.NoError(t, e.Delete([]byte(k), false))
	}
	_, err = e.Commit()
	require.NoError(t, err)

	result, err := checkpoint.Run(path, f, e, engine.Comparator(bytes.Compare), logging.Discard, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.File.Close() })

	require.EqualValues(t, 10, result.Header.NumRecords)
	for i := 1; i < 20; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		v, err := result.Engine.Fetch([]byte(k))
		require.NoError(t, err)
		require.Equal(t, k, string(v))
	}
	for i := 0; i < 20; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		_, err := result.Engine.Fetch([]byte(k))
		require.ErrorIs(t, err, engine.ErrNotFound)
	}
}
