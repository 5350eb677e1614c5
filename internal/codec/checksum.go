package codec

import (
	"encoding/binary"
	"hash/crc32"
)

var crc32Table = crc32.MakeTable(crc32.IEEE)

const checksumSize = 4

// computeChecksum computes a CRC32 checksum for the given data
func computeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// appendChecksum appends a 4-byte little-endian checksum to the data
// Format: [payload][checksum (4 bytes)]
func appendChecksum(data []byte) []byte {
	result := make([]byte, len(data), len(data)+checksumSize)
	copy(result, data)
	return binary.LittleEndian.AppendUint32(result, computeChecksum(data))
}

// stripChecksum validates the trailer and returns the payload without it
func stripChecksum(framed []byte) ([]byte, bool) {
	if len(framed) < checksumSize {
		return nil, false
	}
	n := len(framed) - checksumSize
	payload := framed[:n]
	return payload, binary.LittleEndian.Uint32(framed[n:]) == computeChecksum(payload)
}
