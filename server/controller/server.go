package server

import (
	"context"
	"errors"
	"fw_upload/networking/opcode"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Image is one firmware image received over an Upload phase
type Image struct {
	Remote   string
	Data     []byte
	Checksum []byte // CRC32
	Path     string // Set when the image was persisted
}

// Server emulates the device side of the bootloader protocol
type Server struct {
	Opcodes  opcode.Set
	Root     string // Folder for received images, empty keeps them in memory only
	Compress bool   // Store images as LZ4 frames
	Padding  int    // NUL bytes appended to every acknowledgment
	Logger   zerolog.Logger
	OnImage  func(Image)

	listener net.Listener
	images   atomic.Uint32
	wg       sync.WaitGroup
}

// New returns an emulator speaking given opcode set
func New(opcodes opcode.Set) *Server {
	return &Server{
		Opcodes: opcodes,
		Logger:  zerolog.Nop(),
	}
}

// StartListening binds new listening socket
func (s *Server) StartListening(addr string, mptcp bool) error {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}

	lc := new(net.ListenConfig)
	// Set MPTCP.
	lc.SetMultipathTCP(mptcp)
	// Listen for incoming connections.
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.Logger.Info().Str("addr", l.Addr().String()).Uint8("boot", s.Opcodes.Boot).Msg("listening")
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, one goroutine per client
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	for {
		// Handle incoming connection.
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.Logger.Warn().Err(err).Msg("failed to establish incoming connection")
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			// Set TCP_NODELAY so acknowledgments leave immediately.
			tcp.SetNoDelay(true)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h := &Handler{server: s, conn: conn}
			stopConn := context.AfterFunc(ctx, func() {
				conn.Close()
			})
			defer stopConn()
			h.handleRequest()
		}()
	}
}

// Close stops accepting connections
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) nextImageID() uint32 {
	return s.images.Add(1)
}
