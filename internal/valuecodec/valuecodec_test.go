package valuecodec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/twoskipdb/internal/valuecodec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	value := bytes.Repeat([]byte("twoskip payload "), 100)

	for _, typ := range []valuecodec.Type{valuecodec.None, valuecodec.Snappy, valuecodec.Zstd, valuecodec.LZ4} {
		t.Run(typ.String(), func(t *testing.T) {
			t.Parallel()

			stored, err := valuecodec.Encode(typ, 0, value)
			require.NoError(t, err)
			require.Equal(t, byte(typ), stored[0])

			got, err := valuecodec.Decode(stored)
			require.NoError(t, err)
			require.Equal(t, value, got)
		})
	}
}

func TestEncodeBelowMinSizeStaysUncompressed(t *testing.T) {
	t.Parallel()

	value := []byte("short")
	stored, err := valuecodec.Encode(valuecodec.Zstd, 4096, value)
	require.NoError(t, err)
	require.Equal(t, byte(valuecodec.None), stored[0])

	got, err := valuecodec.Decode(stored)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestDecodeEmptyEnvelopeErrors(t *testing.T) {
	t.Parallel()

	_, err := valuecodec.Decode(nil)
	require.Error(t, err)
}

func TestTypeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "none", valuecodec.None.String())
	require.Equal(t, "snappy", valuecodec.Snappy.String())
	require.Equal(t, "zstd", valuecodec.Zstd.String())
	require.Equal(t, "lz4", valuecodec.LZ4.String())
	require.Equal(t, "unknown", valuecodec.Type(0x7F).String())
}
