package listener

import (
	"context"
	"errors"
	"fmt"
	"fw_upload/constants"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// Listener prints every datagram received on its ports
type Listener struct {
	Logger zerolog.Logger
	// ShowPort adds the local port to each line when more than one port is bound.
	ShowPort bool

	out   io.Writer
	mu    sync.Mutex
	conns []net.PacketConn
}

// New creates a listener writing lines to out
func New(out io.Writer) *Listener {
	return &Listener{Logger: zerolog.Nop(), out: out}
}

// Bind opens one UDP socket per port on host
func (l *Listener) Bind(host string, ports []int) error {
	if len(ports) == 0 {
		ports = []int{constants.DEFAULT_MONITOR_PORT}
	}
	for _, port := range ports {
		conn, err := net.ListenPacket("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			l.Close()
			return err
		}
		l.conns = append(l.conns, conn)
		l.Logger.Info().Str("addr", conn.LocalAddr().String()).Msg("listening")
	}
	l.ShowPort = l.ShowPort || len(l.conns) > 1
	return nil
}

// Addrs returns the bound addresses in Bind order
func (l *Listener) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(l.conns))
	for _, c := range l.conns {
		addrs = append(addrs, c.LocalAddr())
	}
	return addrs
}

// Serve receives until ctx is cancelled or every socket fails
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	for _, conn := range l.conns {
		wg.Add(1)
		go func(conn net.PacketConn) {
			defer wg.Done()
			l.receive(ctx, conn)
		}(conn)
	}
	wg.Wait()
	return ctx.Err()
}

// receive is the per-port read and print loop
func (l *Listener) receive(ctx context.Context, conn net.PacketConn) {
	pc := ipv4.NewPacketConn(conn)
	// Destination address is informational only. Not every platform supports it.
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		l.Logger.Debug().Err(err).Msg("destination control messages unavailable")
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	buf := make([]byte, constants.DATAGRAM_SIZE)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				l.Logger.Warn().Err(err).Int("port", port).Msg("receive failed")
			}
			return
		}
		if cm != nil && cm.Dst != nil {
			l.Logger.Trace().Str("dst", cm.Dst.String()).Int("bytes", n).Msg("datagram")
		}
		l.print(src, port, buf[:n])
	}
}

// print writes "<address> | <payload>" as one line
func (l *Listener) print(src net.Addr, port int, payload []byte) {
	line := FormatLine(src.String(), payload)
	if l.ShowPort {
		line = fmt.Sprintf("%5d %s", port, line)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
}

// FormatLine right-aligns the sender to 20 columns ahead of the payload
func FormatLine(sender string, payload []byte) string {
	return fmt.Sprintf("%20s | %s", sender, strconv.Quote(string(payload)))
}

// Close releases every socket
func (l *Listener) Close() error {
	var errs []error
	for _, c := range l.conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
