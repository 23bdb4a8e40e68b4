package fileio

import (
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
)

// ChecksumSHA256 returns SHA256 checksum of given image
func ChecksumSHA256(image []byte) []byte {
	sum := sha256.Sum256(image)
	return sum[:]
}

// ChecksumCRC32 returns big-endian CRC32 checksum of given image
func ChecksumCRC32(image []byte) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), crc32.ChecksumIEEE(image))
}

// progressiveChecksumCRC32 incrementally calculates CRC32 checksum
func progressiveChecksumCRC32(hash uint32, data []byte) uint32 {
	return crc32.Update(hash, crc32.IEEETable, data)
}
