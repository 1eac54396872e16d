// Package header encodes and decodes the fixed 64-byte twoskip file
// header.
//
// Layout (all integers network byte order / big-endian), reference:
// twoskip file format, the footer-with-magic-and-CRC shape this mirrors
// is shared with any fixed trailer/header that must detect a stale or
// foreign file before trusting anything else in it.
//
//	0   magic        20 bytes
//	20  version       4 bytes
//	24  generation    8 bytes
//	32  num_records   8 bytes
//	40  repack_size   8 bytes
//	48  current_size  8 bytes
//	56  flags         4 bytes
//	60  crc32         4 bytes
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aalhour/twoskipdb/internal/checksum"
)

// Size is the fixed on-disk size of the header.
const Size = 64

// Version is the current file format version this package writes.
const Version = 1

// FlagDirty marks that writes past CurrentSize may exist and recovery
// must run before the file is trusted.
const FlagDirty = 1 << 0

// Magic is the fixed 20-byte file identifier.
// 0xA1 0x02 0x8B 0x0D followed by ASCII "twoskip file" and four NUL bytes.
var Magic = [20]byte{
	0xA1, 0x02, 0x8B, 0x0D,
	't', 'w', 'o', 's', 'k', 'i', 'p', ' ', 'f', 'i', 'l', 'e',
	0, 0, 0, 0,
}

// ErrBadMagic is returned when a file's magic bytes don't match Magic.
var ErrBadMagic = errors.New("header: bad magic")

// ErrBadCRC is returned when the header CRC does not verify.
var ErrBadCRC = errors.New("header: crc mismatch")

// ErrVersionTooNew is returned when the on-disk version exceeds Version.
var ErrVersionTooNew = errors.New("header: version too new")

// Header is the decoded in-memory form of the 64-byte file header.
type Header struct {
	Version     uint32
	Generation  uint64
	NumRecords  uint64
	RepackSize  uint64
	CurrentSize uint64
	Flags       uint32
}

// Dirty reports whether FlagDirty is set.
func (h *Header) Dirty() bool {
	return h.Flags&FlagDirty != 0
}

// SetDirty sets or clears FlagDirty.
func (h *Header) SetDirty(dirty bool) {
	if dirty {
		h.Flags |= FlagDirty
	} else {
		h.Flags &^= FlagDirty
	}
}

// New returns a freshly initialized header for a new database file.
func New() *Header {
	return &Header{
		Version:     Version,
		Generation:  0,
		NumRecords:  0,
		RepackSize:  0,
		CurrentSize: 0,
		Flags:       0,
	}
}

// Encode writes h into a freshly allocated Size-byte buffer, including
// the trailing CRC32 of bytes [0,60).
func Encode(h *Header) []byte {
	buf := make([]byte, Size)
	copy(buf[0:20], Magic[:])
	binary.BigEndian.PutUint32(buf[20:24], h.Version)
	binary.BigEndian.PutUint64(buf[24:32], h.Generation)
	binary.BigEndian.PutUint64(buf[32:40], h.NumRecords)
	binary.BigEndian.PutUint64(buf[40:48], h.RepackSize)
	binary.BigEndian.PutUint64(buf[48:56], h.CurrentSize)
	binary.BigEndian.PutUint32(buf[56:60], h.Flags)
	crc := checksum.Value(buf[0:60])
	binary.BigEndian.PutUint32(buf[60:64], crc)
	return buf
}

// Decode parses and validates a Size-byte buffer into a Header.
// It verifies the magic and the header CRC, and rejects files written by
// a newer format version than this package understands.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("header: short buffer (%d bytes)", len(buf))
	}
	if string(buf[0:20]) != string(Magic[:]) {
		return nil, ErrBadMagic
	}
	wantCRC := checksum.Value(buf[0:60])
	gotCRC := binary.BigEndian.Uint32(buf[60:64])
	if wantCRC != gotCRC {
		return nil, ErrBadCRC
	}
	h := &Header{
		Version:     binary.BigEndian.Uint32(buf[20:24]),
		Generation:  binary.BigEndian.Uint64(buf[24:32]),
		NumRecords:  binary.BigEndian.Uint64(buf[32:40]),
		RepackSize:  binary.BigEndian.Uint64(buf[40:48]),
		CurrentSize: binary.BigEndian.Uint64(buf[48:56]),
		Flags:       binary.BigEndian.Uint32(buf[56:60]),
	}
	if h.Version > Version {
		return nil, fmt.Errorf("%w: file version %d, max supported %d", ErrVersionTooNew, h.Version, Version)
	}
	return h, nil
}
