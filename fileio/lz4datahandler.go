package fileio

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// IsCompressed reports whether the file name marks an LZ4 frame
func IsCompressed(filename string) bool {
	return len(filename) > 4 && filename[len(filename)-4:] == ".lz4"
}

// DecompressImage returns uncompressed data of given LZ4 frame stream
func DecompressImage(r io.Reader) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(r))
}
