// Package valuecodec implements twoskip's optional value compression
// envelope (SPEC_FULL.md §3.2): a one-byte tag prepended to a value's
// bytes before the record codec ever sees them. The record codec always
// writes and checksums exactly what this package hands it. Every value
// carries the tag, including uncompressed ones (tag None), so the value
// payload on disk is one byte longer than the caller's value.
//
// Reference: internal/compression (type enum, dispatch-by-tag Compress/
// Decompress pair), adapted from per-block SST compression to a
// per-value envelope.
package valuecodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the compression algorithm, if any, applied to a value.
type Type byte

const (
	// None stores the value unmodified.
	None Type = 0x00
	// Snappy compresses with github.com/golang/snappy.
	Snappy Type = 0x01
	// Zstd compresses with github.com/klauspost/compress/zstd.
	Zstd Type = 0x02
	// LZ4 compresses with github.com/pierrec/lz4/v4.
	LZ4 Type = 0x03
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Encode prepends a one-byte tag to value, compressing it with t if t is
// not None and value is at least minSize bytes. Values smaller than
// minSize are always stored uncompressed (tagged None) regardless of t,
// matching the size-threshold heuristic the pack's compression-aware
// engines apply before paying a compressor's fixed overhead.
func Encode(t Type, minSize int, value []byte) ([]byte, error) {
	if t == None || len(value) < minSize {
		return append([]byte{byte(None)}, value...), nil
	}
	compressed, err := compress(t, value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(compressed)+1)
	out = append(out, byte(t))
	out = append(out, compressed...)
	return out, nil
}

// Decode strips the leading tag byte from stored and returns the original
// value bytes.
func Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("valuecodec: empty envelope")
	}
	tag := Type(stored[0])
	payload := stored[1:]
	if tag == None {
		return payload, nil
	}
	return decompress(tag, payload)
}

func compress(t Type, value []byte) ([]byte, error) {
	switch t {
	case Snappy:
		return snappy.Encode(nil, value), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("valuecodec: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(value, nil), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(value); err != nil {
			return nil, fmt.Errorf("valuecodec: lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("valuecodec: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("valuecodec: unsupported type %v", t)
	}
}

func decompress(t Type, payload []byte) ([]byte, error) {
	switch t {
	case Snappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("valuecodec: snappy decode: %w", err)
		}
		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("valuecodec: zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("valuecodec: zstd decode: %w", err)
		}
		return out, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("valuecodec: lz4 decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("valuecodec: unsupported type %v", t)
	}
}
