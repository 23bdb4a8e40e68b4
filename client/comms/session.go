package comms

import (
	"errors"
	"fw_upload/constants"
	"fw_upload/networking"
	"fw_upload/networking/opcode"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ErrSessionUsed is returned when Run is called on a session that already ran
var ErrSessionUsed = errors.New("upload session already used")

// State of the handshake
type State uint8

const (
	StateBoot State = iota
	StateUpload
	StateGo
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateUpload:
		return "UPLOAD"
	case StateGo:
		return "GO"
	case StateSuccess:
		return "SUCCESS"
	}
	return "FAILED"
}

// Session runs the Boot, Upload, Go handshake once over one transport
type Session struct {
	Timeout time.Duration        // Deadline of every acknowledgment read
	Logger  zerolog.Logger       // Phase level debug output
	OnPhase func(opcode.Command) // Called as each phase begins

	transport Transport
	opcodes   opcode.Set
	state     State
	used      bool
}

// NewSession binds a session to an already connected transport
func NewSession(transport Transport, opcodes opcode.Set) *Session {
	return &Session{
		Timeout:   constants.DEFAULT_ACK_TIMEOUT,
		Logger:    zerolog.Nop(),
		transport: transport,
		opcodes:   opcodes,
	}
}

// Run uploads payload over transport with the opcodes of given version
func Run(transport Transport, payload []byte, version opcode.Version) error {
	set, err := opcode.Lookup(version)
	if err != nil {
		transport.Close()
		return err
	}
	return NewSession(transport, set).Run(payload)
}

// State returns where the handshake currently is
func (s *Session) State() State {
	return s.state
}

// Run drives all three phases and closes the transport before returning
func (s *Session) Run(payload []byte) error {
	if s.used {
		return ErrSessionUsed
	}
	s.used = true
	defer s.transport.Close()

	if err := networking.CheckPayloadSize(uint64(len(payload))); err != nil {
		s.state = StateFailed
		return err
	}

	s.state = StateBoot
	if err := s.phase(opcode.BOOT, nil); err != nil {
		return s.fail(err)
	}

	s.state = StateUpload
	frame, err := networking.UploadFrame(payload)
	if err != nil {
		return s.fail(err)
	}
	if err := s.phase(opcode.UPLOAD, frame); err != nil {
		return s.fail(err)
	}

	s.state = StateGo
	if err := s.phase(opcode.GO, nil); err != nil {
		return s.fail(err)
	}

	s.state = StateSuccess
	s.Logger.Debug().Int("bytes", len(payload)).Msg("upload session complete")
	return nil
}

func (s *Session) fail(err error) error {
	s.Logger.Debug().Str("state", s.state.String()).Err(err).Msg("upload session failed")
	s.state = StateFailed
	return err
}

// phase sends the command opcode, then body if any, and waits for "OK"
func (s *Session) phase(cmd opcode.Command, body []byte) error {
	if s.OnPhase != nil {
		s.OnPhase(cmd)
	}
	op := s.opcodes.Of(cmd)

	if _, err := networking.WriteFull(s.transport, []byte{op}); err != nil {
		return &networking.TransportError{Op: "send", Phase: cmd, Err: err}
	}
	if len(body) > 0 {
		if _, err := networking.WriteFull(s.transport, body); err != nil {
			return &networking.TransportError{Op: "send", Phase: cmd, Err: err}
		}
	}
	s.Logger.Debug().Stringer("phase", cmd).Uint8("opcode", op).Int("body", len(body)).Msg("sent")

	ack, err := s.readAck(cmd)
	if err != nil {
		return err
	}
	s.Logger.Debug().Stringer("phase", cmd).Bytes("ack", networking.StripPadding(ack)).Msg("acknowledged")

	if !networking.IsAffirmative(ack) {
		return &networking.PhaseRejected{Phase: cmd, Raw: ack}
	}
	return nil
}

// readAck does one bounded, deadline limited read
func (s *Session) readAck(cmd opcode.Command) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = constants.DEFAULT_ACK_TIMEOUT
	}
	if err := s.transport.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &networking.TransportError{Op: "recv", Phase: cmd, Err: err}
	}

	buf := make([]byte, constants.ACK_READ_SIZE)
	n, err := s.transport.Read(buf)
	if n > 0 {
		// Bytes that arrived with an error still decide the phase.
		return buf[:n], nil
	}
	if err == nil {
		return buf[:0], nil
	}
	if isTimeout(err) {
		return nil, &networking.PhaseTimeout{Phase: cmd, After: timeout}
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &networking.TransportError{Op: "recv", Phase: cmd, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
