package registry_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb/internal/registry"
)

type fakeHandle struct {
	closed int32
}

func (h *fakeHandle) Close() error {
	atomic.AddInt32(&h.closed, 1)
	return nil
}

func TestOpenSharesHandleForSamePath(t *testing.T) {
	t.Parallel()

	r := registry.New[*fakeHandle]()
	var opens int32

	open := func() (*fakeHandle, error) {
		atomic.AddInt32(&opens, 1)
		return &fakeHandle{}, nil
	}

	h1, err := r.Open("/tmp/db.twoskip", open)
	require.NoError(t, err)
	h2, err := r.Open("/tmp/db.twoskip", open)
	require.NoError(t, err)

	require.Same(t, h1, h2)
	require.EqualValues(t, 1, atomic.LoadInt32(&opens))
	require.Equal(t, 1, r.Len())
}

func TestCloseRefcountsToZero(t *testing.T) {
	t.Parallel()

	r := registry.New[*fakeHandle]()
	open := func() (*fakeHandle, error) { return &fakeHandle{}, nil }
	closeFn := func(h *fakeHandle) error { return h.Close() }

	h, err := r.Open("/tmp/db.twoskip", open)
	require.NoError(t, err)
	_, err = r.Open("/tmp/db.twoskip", open)
	require.NoError(t, err)

	require.NoError(t, r.Close("/tmp/db.twoskip", closeFn))
	require.EqualValues(t, 0, atomic.LoadInt32(&h.closed), "handle still referenced once")

	require.NoError(t, r.Close("/tmp/db.twoskip", closeFn))
	require.EqualValues(t, 1, atomic.LoadInt32(&h.closed))
	require.Equal(t, 0, r.Len())
}

func TestCloseUnregisteredPathIsNoop(t *testing.T) {
	t.Parallel()

	r := registry.New[*fakeHandle]()
	require.NoError(t, r.Close("/never/opened", func(*fakeHandle) error {
		return errors.New("should not be called")
	}))
}

func TestConcurrentOpenCollapsesIntoOneOpenFn(t *testing.T) {
	t.Parallel()

	r := registry.New[*fakeHandle]()
	var opens int32

	var wg sync.WaitGroup
	handles := make([]*fakeHandle, 20)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Open("/tmp/race.twoskip", func() (*fakeHandle, error) {
				atomic.AddInt32(&opens, 1)
				return &fakeHandle{}, nil
			})
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		require.Same(t, handles[0], h)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&opens))
}
