package fileio

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// WriteResult is reported once the write queue has been drained
type WriteResult struct {
	Written  int    // Uncompressed bytes received
	Checksum []byte // CRC32 of uncompressed bytes
	Err      error  // First write error, if any
}

// ImageWriter does buffered writes of a received image to file
type ImageWriter struct {
	file      *os.File
	writer    *bufio.Writer
	zw        *lz4.Writer
	wqLen     int
	crc32Hash uint32
}

// New creates new file for writing or returns error upon failing to do so
func (b *ImageWriter) New(filename string, bufferSize, qlen int, compress bool) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	b.file = file
	// New buffered writer.
	b.writer = bufio.NewWriterSize(b.file, bufferSize)
	if compress {
		b.zw = lz4.NewWriter(b.writer)
	}
	b.wqLen = qlen
	return nil
}

// StartWriting starts goroutine for writing chunks of data to file
func (b *ImageWriter) StartWriting() (chan<- []byte, <-chan WriteResult) {
	if b.file == nil {
		panic("cannot start writing without file handle")
	}
	result := make(chan WriteResult, 1)
	// Make write queue.
	stream := make(chan []byte, b.wqLen)
	// Start consuming queue in goroutine.
	go func(chunkStream chan []byte, done chan WriteResult) {
		var res WriteResult
		var out io.Writer = b.writer
		if b.zw != nil {
			out = b.zw
		}

		for chunk := range chunkStream {
			if res.Err != nil {
				// Keep draining so the producer never blocks.
				continue
			}
			// Write to file.
			if _, err := out.Write(chunk); err != nil {
				res.Err = err
				continue
			}
			res.Written += len(chunk)
			// Update hash.
			b.crc32Hash = progressiveChecksumCRC32(b.crc32Hash, chunk)
		}

		// Write any remaining bytes.
		if b.zw != nil {
			if err := b.zw.Close(); err != nil && res.Err == nil {
				res.Err = err
			}
		}
		if err := b.writer.Flush(); err != nil && res.Err == nil {
			res.Err = err
		}
		if err := b.file.Close(); err != nil && res.Err == nil {
			res.Err = err
		}

		res.Checksum = binary.BigEndian.AppendUint32(make([]byte, 0, 4), b.crc32Hash)

		// Signal that all data has been written.
		done <- res
		close(done)
	}(stream, result)
	return stream, result
}
