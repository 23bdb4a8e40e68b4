package fileio

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadPayload reads the whole firmware image before any upload starts.
// Images stored as .lz4 are decompressed on the way in.
func LoadPayload(filename string) ([]byte, error) {
	filename = filepath.Clean(filename)

	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filename)
	}

	if !IsCompressed(filename) {
		return os.ReadFile(filename)
	}

	handle, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	image, err := DecompressImage(handle)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", filename, err)
	}
	return image, nil
}
