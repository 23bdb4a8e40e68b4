package server

import (
	"bytes"
	"context"
	"errors"
	"fw_upload/client/comms"
	"fw_upload/constants"
	"fw_upload/fileio"
	"fw_upload/networking"
	"fw_upload/networking/opcode"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// startEmulator runs a loopback emulator for the duration of the test
func startEmulator(c *qt.C, version opcode.Version, configure func(*Server)) *Server {
	set, err := opcode.Lookup(version)
	c.Assert(err, qt.IsNil)

	s := New(set)
	if configure != nil {
		configure(s)
	}
	c.Assert(s.StartListening("127.0.0.1:0", false), qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()
	c.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			c.Check(err, qt.IsNil)
		case <-time.After(5 * time.Second):
			c.Error("emulator did not stop")
		}
	})
	return s
}

func dial(c *qt.C, s *Server) net.Conn {
	conn, err := comms.Dial(s.Addr().String(), comms.DialOptions{Timeout: time.Second})
	c.Assert(err, qt.IsNil)
	return conn
}

type imageLog struct {
	mu     sync.Mutex
	images []Image
}

func (l *imageLog) add(img Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images = append(l.images, img)
}

func (l *imageLog) all() []Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Image(nil), l.images...)
}

func TestUploadRoundTripPaddedAcks(t *testing.T) {
	c := qt.New(t)
	received := new(imageLog)
	s := startEmulator(c, opcode.V1, func(s *Server) {
		s.Padding = 3
		s.OnImage = received.add
	})
	image := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 20000)

	err := comms.Run(dial(c, s), image, opcode.V1)
	c.Assert(err, qt.IsNil)

	images := received.all()
	c.Assert(images, qt.HasLen, 1)
	c.Assert(images[0].Data, qt.DeepEquals, image)
	c.Assert(images[0].Checksum, qt.DeepEquals, fileio.ChecksumCRC32(image))
	c.Assert(images[0].Path, qt.Equals, "")
}

func TestEmptyImage(t *testing.T) {
	c := qt.New(t)
	received := new(imageLog)
	s := startEmulator(c, opcode.V2, func(s *Server) {
		s.OnImage = received.add
	})

	c.Assert(comms.Run(dial(c, s), nil, opcode.V2), qt.IsNil)
	c.Assert(received.all(), qt.HasLen, 1)
	c.Assert(received.all()[0].Data, qt.HasLen, 0)
}

func TestVersionMismatch(t *testing.T) {
	c := qt.New(t)
	s := startEmulator(c, opcode.V2, nil)
	image := []byte("program")

	err := comms.Run(dial(c, s), image, opcode.V1)
	var rejected *networking.PhaseRejected
	c.Assert(err, qt.ErrorAs, &rejected)
	c.Assert(rejected.Phase, qt.Equals, opcode.BOOT)
	c.Assert(err, qt.ErrorMatches, "Boot - ERR: unknown opcode 0x07")

	// A fresh connection and session is the only way to try again.
	c.Assert(comms.Run(dial(c, s), image, opcode.V2), qt.IsNil)
}

func TestPersistImages(t *testing.T) {
	c := qt.New(t)
	root := c.TempDir()
	received := new(imageLog)
	s := startEmulator(c, opcode.V2, func(s *Server) {
		s.Root = root
		s.Compress = true
		s.OnImage = received.add
	})
	image := bytes.Repeat([]byte("stm32"), 3000)

	c.Assert(comms.Run(dial(c, s), image, opcode.V2), qt.IsNil)

	images := received.all()
	c.Assert(images, qt.HasLen, 1)
	c.Assert(images[0].Path, qt.Equals, filepath.Join(root, "image-1.bin.lz4"))

	stored, err := fileio.LoadPayload(images[0].Path)
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.DeepEquals, image)

	_, err = os.Stat(filepath.Join(root, "image-2.bin.lz4"))
	c.Assert(err, qt.ErrorIs, os.ErrNotExist)
}

// rawExchange writes request bytes and returns whatever the emulator answers
func rawExchange(c *qt.C, conn net.Conn, request []byte) string {
	_, err := conn.Write(request)
	c.Assert(err, qt.IsNil)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	c.Assert(err, qt.IsNil)
	return string(buf[:n])
}

func TestGoWithoutImage(t *testing.T) {
	c := qt.New(t)
	s := startEmulator(c, opcode.V1, nil)
	conn := dial(c, s)
	defer conn.Close()

	c.Assert(rawExchange(c, conn, []byte{0x07}), qt.Equals, "OK")
	c.Assert(rawExchange(c, conn, []byte{0x09}), qt.Equals, networking.RejectNoImage)
}

func TestUploadBeforeBootIsRejected(t *testing.T) {
	c := qt.New(t)
	received := new(imageLog)
	s := startEmulator(c, opcode.V1, func(s *Server) {
		s.OnImage = received.add
	})
	conn := dial(c, s)
	defer conn.Close()

	frame, err := networking.UploadFrame([]byte{0xde, 0xad, 0xbe, 0xef})
	c.Assert(err, qt.IsNil)
	c.Assert(rawExchange(c, conn, append([]byte{0x08}, frame...)), qt.Equals, networking.RejectNotBooted)

	// The frame was consumed, so the connection still speaks opcodes.
	c.Assert(rawExchange(c, conn, []byte{0x07}), qt.Equals, "OK")
	c.Assert(rawExchange(c, conn, append([]byte{0x08}, frame...)), qt.Equals, "OK")
	c.Assert(rawExchange(c, conn, []byte{0x09}), qt.Equals, "OK")
	c.Assert(received.all(), qt.HasLen, 1)
}

func TestPaddingFitsOneRead(t *testing.T) {
	c := qt.New(t)
	for _, padding := range []int{networking.MaxAckPadding, 5000} {
		s := startEmulator(c, opcode.V2, func(s *Server) {
			s.Padding = padding
		})
		err := comms.Run(dial(c, s), []byte("program"), opcode.V2)
		c.Assert(err, qt.IsNil, qt.Commentf("padding %d", padding))
	}

	// An unknown opcode gets the longest reply.
	s := startEmulator(c, opcode.V2, func(s *Server) {
		s.Padding = 5000
	})
	conn := dial(c, s)
	defer conn.Close()
	reply := rawExchange(c, conn, []byte{0x07})
	c.Assert(reply, qt.HasLen, constants.ACK_READ_SIZE)
	c.Assert(string(networking.StripPadding([]byte(reply))), qt.Equals, "ERR: unknown opcode 0x07")
}

func TestFailedUploadRemovesPartialImage(t *testing.T) {
	c := qt.New(t)
	root := c.TempDir()
	s := startEmulator(c, opcode.V2, func(s *Server) {
		s.Root = root
	})
	conn := dial(c, s)

	c.Assert(rawExchange(c, conn, []byte{0x10}), qt.Equals, "OK")
	// Announce 100 bytes, send 10, then hang up.
	_, err := conn.Write([]byte{0x11, 0x00, 0x00, 0x00, 0x64})
	c.Assert(err, qt.IsNil)
	_, err = conn.Write(bytes.Repeat([]byte{0xaa}, 10))
	c.Assert(err, qt.IsNil)

	partial := filepath.Join(root, "image-1.bin")
	waitFor(c, func() bool {
		_, err := os.Stat(partial)
		return err == nil
	})
	conn.Close()

	waitFor(c, func() bool {
		_, err := os.Stat(partial)
		return errors.Is(err, os.ErrNotExist)
	})
}

// waitFor polls cond until it holds or five seconds pass
func waitFor(c *qt.C, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	c := qt.New(t)
	set, _ := opcode.Lookup(opcode.V2)
	s := New(set)
	c.Assert(s.StartListening("127.0.0.1:0", false), qt.IsNil)

	// An idle client must not keep Serve from returning.
	conn, err := net.Dial("tcp", s.Addr().String())
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("Serve did not return")
	}
}

func TestServeWithoutListen(t *testing.T) {
	c := qt.New(t)
	s := New(opcode.Set{})
	c.Assert(s.Serve(context.Background()), qt.ErrorMatches, "server is not listening")
}

func TestCloseStopsServe(t *testing.T) {
	c := qt.New(t)
	set, _ := opcode.Lookup(opcode.V1)
	s := New(set)
	c.Assert(s.StartListening("127.0.0.1:0", false), qt.IsNil)

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
	}()
	c.Assert(s.Close(), qt.IsNil)

	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("Serve did not return")
	}
}
