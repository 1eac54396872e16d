package twoskip_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb"
)

func TestIteratorWalksAllKeysInOrder(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	keys := []string{"d", "b", "a", "c", "e"}
	for _, k := range keys {
		require.NoError(t, db.Store([]byte(k), []byte("v-"+k), false))
	}

	it := db.NewIterator(nil)
	var seen []string
	for it.Next() {
		seen = append(seen, string(it.Key()))
		require.Equal(t, "v-"+string(it.Key()), string(it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestIteratorHonorsPrefix(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for _, k := range []string{"user.b", "user.a", "group.x", "user.c"} {
		require.NoError(t, db.Store([]byte(k), []byte("v"), false))
	}

	it := db.NewIterator([]byte("user."))
	var seen []string
	for it.Next() {
		seen = append(seen, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"user.a", "user.b", "user.c"}, seen)
}

func TestIteratorOnEmptyDatabaseYieldsNothing(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	it := db.NewIterator(nil)
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestIteratorStopsAtPrefixBoundary(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	for _, k := range []string{"a.1", "a.2", "b.1"} {
		require.NoError(t, db.Store([]byte(k), []byte("v"), false))
	}

	it := db.NewIterator([]byte("a."))
	count := 0
	for it.Next() {
		count++
	}
	require.Equal(t, 2, count)
	require.NoError(t, it.Err())
}

func TestIteratorHandlesManyKeysPastLengthVariation(t *testing.T) {
	t.Parallel()

	db, _ := openFresh(t, twoskip.DefaultOptions())
	const n = 200
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%d", i)
		require.NoError(t, db.Store([]byte(k), []byte(k), false))
	}

	it := db.NewIterator(nil)
	count := 0
	var prev []byte
	for it.Next() {
		if prev != nil {
			require.Less(t, string(prev), string(it.Key()))
		}
		prev = append([]byte(nil), it.Key()...)
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, n, count)
}
