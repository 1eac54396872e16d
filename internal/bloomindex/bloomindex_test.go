package bloomindex_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb/internal/bloomindex"
)

func TestMightContainAfterAdd(t *testing.T) {
	t.Parallel()

	f := bloomindex.New(1000, 0.01)
	require.False(t, f.MightContain([]byte("absent")))

	f.Add([]byte("present"))
	require.True(t, f.MightContain([]byte("present")))
}

func TestResetClearsFilter(t *testing.T) {
	t.Parallel()

	f := bloomindex.New(1000, 0.01)
	f.Add([]byte("key"))
	require.True(t, f.MightContain([]byte("key")))

	f.Reset()
	require.False(t, f.MightContain([]byte("key")))
}

func TestFalsePositiveRateIsBounded(t *testing.T) {
	t.Parallel()

	f := bloomindex.New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("present-%d", i)))
	}

	falsePositives := 0
	const probes = 5000
	for i := 0; i < probes; i++ {
		if f.MightContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	// 0.01 target with slack for the probabilistic nature of the structure.
	require.Less(t, falsePositives, probes/10)
}

func TestZeroValueDefaults(t *testing.T) {
	t.Parallel()

	f := bloomindex.New(0, 0)
	f.Add([]byte("a"))
	require.True(t, f.MightContain([]byte("a")))
}
