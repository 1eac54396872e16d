// Package checksum provides the CRC32 implementation twoskip uses to
// protect record heads and tails on disk.
//
// twoskip's wire format uses plain CRC32 (the IEEE polynomial, as used by
// zlib), not CRC32C. This is a fixed on-disk invariant: changing the
// polynomial breaks every existing database file.
package checksum

import "hash/crc32"

// ieeeTable is the standard IEEE CRC32 polynomial table, matching
// zlib's crc32() and the value twoskip has always stored on disk.
var ieeeTable = crc32.MakeTable(crc32.IEEE)

// Value computes the CRC32 of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

// Extend computes the CRC32 of concat(A, B) given the CRC32 of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, ieeeTable, data)
}

// ValueConcat computes the CRC32 over several byte slices as if they had
// been concatenated, without allocating the concatenation.
func ValueConcat(parts ...[]byte) uint32 {
	crc := uint32(0)
	for _, p := range parts {
		crc = crc32.Update(crc, ieeeTable, p)
	}
	return crc
}
