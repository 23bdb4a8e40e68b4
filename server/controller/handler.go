package server

import (
	"bytes"
	"fmt"
	"fw_upload/constants"
	"fw_upload/fileio"
	"fw_upload/networking"
	"fw_upload/networking/opcode"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Handler serves one client connection
type Handler struct {
	server *Server
	conn   net.Conn
	booted bool
	image  *Image
	log    zerolog.Logger
}

// handleRequest handles whole session
func (h *Handler) handleRequest() {
	defer h.conn.Close()
	h.log = h.server.Logger.With().Str("remote", h.conn.RemoteAddr().String()).Logger()
	h.log.Info().Msg("new connection")

	op := make([]byte, 1)
	for {
		// Every request starts with a single opcode byte.
		if _, err := io.ReadFull(h.conn, op); err != nil {
			h.log.Info().Msg("client disconnected")
			return
		}

		cmd, known := h.server.Opcodes.Decode(op[0])
		if !known {
			h.log.Warn().Msgf("unknown opcode 0x%02x", op[0])
			if !h.reply(fmt.Sprintf("%s 0x%02x", networking.RejectUnknownOpcode, op[0])) {
				return
			}
			continue
		}

		if !h.dispatch(cmd) {
			return
		}
	}
}

// dispatch runs one command and reports whether the connection stays usable
func (h *Handler) dispatch(cmd opcode.Command) bool {
	switch cmd {
	case opcode.BOOT:
		h.booted = true
		h.log.Debug().Msg("entered bootloader")
		return h.reply(string(networking.AckOK))
	case opcode.UPLOAD:
		if !h.booted {
			// Consume the frame so the next byte is an opcode again.
			if err := h.discardImage(); err != nil {
				h.log.Warn().Err(err).Msg("upload outside bootloader failed")
				return false
			}
			return h.reply(networking.RejectNotBooted)
		}
		image, err := h.receiveImage()
		if err != nil {
			h.log.Warn().Err(err).Msg("upload failed")
			return false
		}
		h.image = image
		if h.server.OnImage != nil {
			h.server.OnImage(*image)
		}
		return h.reply(string(networking.AckOK))
	case opcode.GO:
		if h.image == nil {
			return h.reply(networking.RejectNoImage)
		}
		h.log.Info().Int("bytes", len(h.image.Data)).Msg("jumping to program")
		return h.reply(string(networking.AckOK))
	}
	return false
}

// receiveImage reads the length prefix and exactly that many image bytes
func (h *Handler) receiveImage() (*Image, error) {
	prefix := make([]byte, networking.LengthPrefixSize)
	if _, err := io.ReadFull(h.conn, prefix); err != nil {
		return nil, err
	}
	length, _ := networking.DecodeLength(prefix)

	var chunks chan<- []byte
	var done <-chan fileio.WriteResult
	image := &Image{Remote: h.conn.RemoteAddr().String()}

	if h.server.Root != "" {
		name := fmt.Sprintf("image-%d.bin", h.server.nextImageID())
		if h.server.Compress {
			name += ".lz4"
		}
		image.Path = filepath.Join(h.server.Root, name)
		writer := new(fileio.ImageWriter)
		if err := writer.New(image.Path, constants.EMULATOR_RECV_CHUNK, 4, h.server.Compress); err != nil {
			return nil, err
		}
		chunks, done = writer.StartWriting()
	}

	data := new(bytes.Buffer)
	remaining := int64(length)
	buffer := make([]byte, constants.EMULATOR_RECV_CHUNK)
	var err error
	for remaining > 0 {
		want := int64(len(buffer))
		if remaining < want {
			want = remaining
		}
		var n int
		n, err = io.ReadFull(h.conn, buffer[:want])
		if n > 0 {
			data.Write(buffer[:n])
			if chunks != nil {
				chunks <- append([]byte(nil), buffer[:n]...)
			}
			remaining -= int64(n)
		}
		if err != nil {
			break
		}
	}

	if chunks != nil {
		close(chunks)
		res := <-done
		if res.Err != nil && err == nil {
			err = res.Err
		}
	}
	if err != nil {
		if image.Path != "" {
			os.Remove(image.Path)
		}
		return nil, err
	}

	image.Data = data.Bytes()
	image.Checksum = fileio.ChecksumCRC32(image.Data)
	h.log.Info().Uint32("length", length).Hex("crc32", image.Checksum).Str("path", image.Path).Msg("image received")
	return image, nil
}

// discardImage reads and drops one length-prefixed image
func (h *Handler) discardImage() error {
	prefix := make([]byte, networking.LengthPrefixSize)
	if _, err := io.ReadFull(h.conn, prefix); err != nil {
		return err
	}
	length, _ := networking.DecodeLength(prefix)
	h.log.Debug().Uint32("length", length).Msg("discarding image, not in bootloader")
	_, err := io.CopyN(io.Discard, h.conn, int64(length))
	return err
}

// reply writes an acknowledgment followed by the configured NUL padding.
// Padding is cut so the whole acknowledgment fits one client read.
func (h *Handler) reply(body string) bool {
	out := []byte(body)
	padding := h.server.Padding
	if room := constants.ACK_READ_SIZE - len(out); padding > room {
		padding = room
	}
	if padding > 0 {
		out = append(out, make([]byte, padding)...)
	}
	if _, err := networking.WriteFull(h.conn, out); err != nil {
		h.log.Warn().Err(err).Msg("failed to send acknowledgment")
		return false
	}
	return true
}
