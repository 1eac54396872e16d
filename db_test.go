package twoskip_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb"
	"github.com/aalhour/twoskipdb/internal/header"
)

func openFresh(t *testing.T, opts twoskip.Options) (*twoskip.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.twoskip")
	opts.Flags |= twoskip.FlagCreate
	db, err := twoskip.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestOpenCreatesAndStoreFetchRoundTrips(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())

	require.NoError(t, db.Store([]byte("a"), []byte("1"), false))
	v, err := db.Fetch([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	_, err = db.Fetch([]byte("missing"))
	require.ErrorIs(t, err, twoskip.ErrNotFound)
}

func TestStoreWithoutForceRejectsDuplicate(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	require.NoError(t, db.Store([]byte("k"), []byte("1"), false))

	err := db.Store([]byte("k"), []byte("2"), false)
	require.ErrorIs(t, err, twoskip.ErrExists)

	require.NoError(t, db.Store([]byte("k"), []byte("2"), true))
	v, err := db.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestDeleteRemovesKey(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	require.NoError(t, db.Store([]byte("k"), []byte("v"), false))
	require.NoError(t, db.Delete([]byte("k"), false))

	_, err := db.Fetch([]byte("k"))
	require.ErrorIs(t, err, twoskip.ErrNotFound)

	err = db.Delete([]byte("k"), false)
	require.ErrorIs(t, err, twoskip.ErrNotFound)
	require.NoError(t, db.Delete([]byte("k"), true))
}

func TestFetchNextFindsSuccessor(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for _, k := range []string{"a", "c", "e"} {
		require.NoError(t, db.Store([]byte(k), []byte(k), false))
	}

	k, v, err := db.FetchNext([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "c", string(k))
	require.Equal(t, "c", string(v))
}

func TestForeachWalksInOrderAndHonorsPrefix(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for _, k := range []string{"user.b", "user.a", "group.x"} {
		require.NoError(t, db.Store([]byte(k), []byte("v"), false))
	}

	var seen []string
	_, err := db.Foreach([]byte("user."), nil, func(key, _ []byte) (int, error) {
		seen = append(seen, string(key))
		return 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user.a", "user.b"}, seen)
}

func TestForeachCanReenterDatabaseDuringCallback(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, db.Store([]byte(k), []byte("v"), false))
	}

	var seen []string
	_, err := db.Foreach(nil, nil, func(key, _ []byte) (int, error) {
		seen = append(seen, string(key))
		if string(key) == "b" {
			// Re-entering the database mid-callback must not deadlock. "0"
			// sorts before every key already visited, so the still-running
			// walk (which only ever moves forward) never encounters it.
			require.NoError(t, db.Store([]byte("0"), []byte("v"), false))
		}
		return 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, seen)

	v, err := db.Fetch([]byte("0"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestCheckPassesOnHealthyDatabase(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%03d", i)
		require.NoError(t, db.Store([]byte(k), []byte(k), false))
	}
	require.NoError(t, db.Check())
}

func TestCheckpointCompactsAndPreservesData(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%03d", i)
		require.NoError(t, db.Store([]byte(k), []byte(k), false))
	}
	for i := 0; i < 100; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		require.NoError(t, db.Delete([]byte(k), false))
	}

	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Check())

	for i := 1; i < 100; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		v, err := db.Fetch([]byte(k))
		require.NoError(t, err)
		require.Equal(t, k, string(v))
	}
	for i := 0; i < 100; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		_, err := db.Fetch([]byte(k))
		require.ErrorIs(t, err, twoskip.ErrNotFound)
	}
}

func TestOpenSharesHandleWithinProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.twoskip")
	opts := twoskip.DefaultOptions()
	opts.Flags |= twoskip.FlagCreate

	db1, err := twoskip.Open(path, opts)
	require.NoError(t, err)
	db2, err := twoskip.Open(path, opts)
	require.NoError(t, err)

	require.Same(t, db1, db2)
	require.NoError(t, db1.Store([]byte("k"), []byte("v"), false))

	v, err := db2.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	require.NoError(t, db1.Close())
	v, err = db2.Fetch([]byte("k"))
	require.NoError(t, err, "handle must stay open while db2 still references it")
	require.Equal(t, "v", string(v))
	require.NoError(t, db2.Close())
}

func TestReopenRecoversFromDirtyHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dirty.twoskip")
	opts := twoskip.DefaultOptions()
	opts.Flags |= twoskip.FlagCreate

	db, err := twoskip.Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, db.Store([]byte("a"), []byte("1"), false))
	require.NoError(t, db.Store([]byte("b"), []byte("2"), false))
	require.NoError(t, db.Close())

	// Set DIRTY in the on-disk header, as a crash mid-transaction leaves
	// it, so the reopen below must run recovery.
	raw, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	hbuf := make([]byte, header.Size)
	_, err = raw.ReadAt(hbuf, 0)
	require.NoError(t, err)
	hdr, err := header.Decode(hbuf)
	require.NoError(t, err)
	hdr.SetDirty(true)
	_, err = raw.WriteAt(header.Encode(hdr), 0)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db2, err := twoskip.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	v, err := db2.Fetch([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.NoError(t, db2.Check())
}

func TestMailboxSortOrdersParentBeforeChildren(t *testing.T) {
	t.Parallel()

	opts := twoskip.DefaultOptions()
	opts.Flags |= twoskip.FlagMboxSort
	db, _ := openFresh(t, opts)

	for _, k := range []string{"ab", "a.b", "a"} {
		require.NoError(t, db.Store([]byte(k), []byte(k), false))
	}

	var seen []string
	_, err := db.Foreach(nil, nil, func(key, _ []byte) (int, error) {
		seen = append(seen, string(key))
		return 0, nil
	})
	require.NoError(t, err)
	want := []string{"a", "a.b", "ab"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("mailbox ordering mismatch (-want +got):\n%s", diff)
	}
}

func TestBloomFilterRejectsAbsentKeysWithoutDescending(t *testing.T) {
	t.Parallel()

	opts := twoskip.DefaultOptions()
	opts.BloomFilter = true
	opts.BloomFilterMinRecords = 0
	db, _ := openFresh(t, opts)

	require.NoError(t, db.Store([]byte("present"), []byte("v"), false))
	_, err := db.Fetch([]byte("present"))
	require.NoError(t, err)

	_, err = db.Fetch([]byte("absent"))
	require.ErrorIs(t, err, twoskip.ErrNotFound)
}
