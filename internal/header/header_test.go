package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb/internal/header"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	h := header.New()
	h.Generation = 7
	h.NumRecords = 42
	h.RepackSize = 1024
	h.CurrentSize = 2048
	h.SetDirty(true)

	buf := header.Encode(h)
	require.Len(t, buf, header.Size)

	got, err := header.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.True(t, got.Dirty())
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	t.Parallel()

	buf := header.Encode(header.New())
	buf[0] ^= 0xFF

	_, err := header.Decode(buf)
	require.ErrorIs(t, err, header.ErrBadMagic)
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	t.Parallel()

	buf := header.Encode(header.New())
	buf[63] ^= 0xFF

	_, err := header.Decode(buf)
	require.ErrorIs(t, err, header.ErrBadCRC)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	t.Parallel()

	h := header.New()
	h.Version = header.Version + 1
	buf := header.Encode(h)

	_, err := header.Decode(buf)
	require.ErrorIs(t, err, header.ErrVersionTooNew)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	_, err := header.Decode(make([]byte, header.Size-1))
	require.Error(t, err)
}

func TestSetDirtyToggles(t *testing.T) {
	t.Parallel()

	h := header.New()
	require.False(t, h.Dirty())
	h.SetDirty(true)
	require.True(t, h.Dirty())
	h.SetDirty(false)
	require.False(t, h.Dirty())
}
