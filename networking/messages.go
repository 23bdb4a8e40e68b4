package networking

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fw_upload/constants"
	"io"
)

// CheckPayloadSize fails when size does not fit the u32 length field
func CheckPayloadSize(size uint64) error {
	if size > constants.MAX_PAYLOAD_SIZE {
		return &PayloadTooLarge{Size: size}
	}
	return nil
}

// EncodeLength returns the 4 byte big-endian length prefix
func EncodeLength(size int) ([]byte, error) {
	if err := CheckPayloadSize(uint64(size)); err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), uint32(size)), nil
}

// UploadFrame returns length prefix followed by payload as one buffer
func UploadFrame(payload []byte) ([]byte, error) {
	prefix, err := EncodeLength(len(payload))
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(prefix)+len(payload))
	frame = append(frame, prefix...)
	return append(frame, payload...), nil
}

// DecodeLength decodes the 4 byte big-endian length prefix
func DecodeLength(prefix []byte) (uint32, error) {
	if len(prefix) != LengthPrefixSize {
		return 0, errors.New("length prefix should always be 4 bytes")
	}
	return binary.BigEndian.Uint32(prefix), nil
}

// StripPadding removes trailing NUL bytes from an acknowledgment
func StripPadding(ack []byte) []byte {
	return bytes.TrimRight(ack, "\x00")
}

// IsAffirmative reports whether ack reads "OK" once padding is gone
func IsAffirmative(ack []byte) bool {
	return bytes.Equal(StripPadding(ack), AckOK)
}

// WriteFull keeps writing until all of buf has been accepted by w
func WriteFull(w io.Writer, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
