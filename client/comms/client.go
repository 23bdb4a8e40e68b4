package comms

import (
	"fw_upload/constants"
	"fw_upload/networking"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// Transport is the byte stream a Session drives. net.Conn satisfies it.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// DialOptions tune the TCP connection to the bootloader
type DialOptions struct {
	Timeout time.Duration   // Connect deadline
	DSCP    int             // 0 leaves the TOS byte alone
	MPTCP   bool
	Logger  *zerolog.Logger // Socket option failures are logged at debug level
}

// Dial opens TCP connection to target host address
func Dial(address string, opts DialOptions) (net.Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DEFAULT_DIAL_TIMEOUT
	}
	if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
		return nil, &networking.TransportError{Op: "dial", Err: err}
	}
	dial := &net.Dialer{Timeout: opts.Timeout}
	// Set MPTCP.
	dial.SetMultipathTCP(opts.MPTCP)
	// Connect to host.
	conn, err := dial.Dial("tcp", address)
	if err != nil {
		return nil, &networking.TransportError{Op: "dial", Err: err}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Set TCP_NODELAY so single opcode bytes leave immediately.
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Debug().Err(err).Msg("could not set TCP_NODELAY")
		}
	}
	if opts.DSCP > 0 {
		// DSCP occupies the upper six bits of TOS. NOTE: Windows ignores it by default.
		if err := ipv4.NewConn(conn).SetTOS(opts.DSCP << 2); err != nil {
			logger.Debug().Err(err).Int("dscp", opts.DSCP).Msg("could not set TOS")
		}
	}
	logger.Debug().Str("remote", conn.RemoteAddr().String()).Int("dscp", opts.DSCP).Bool("mptcp", opts.MPTCP).Msg("connected")
	return conn, nil
}
