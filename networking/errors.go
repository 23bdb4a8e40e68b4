package networking

import (
	"fmt"
	"fw_upload/networking/opcode"
	"time"
)

// TransportError is a socket level failure: dial, send or receive
type TransportError struct {
	Op    string // "dial", "send" or "recv"
	Phase opcode.Command
	Err   error
}

func (e *TransportError) Error() string {
	if e.Op == "dial" {
		return "Connect - " + e.Err.Error()
	}
	return fmt.Sprintf("%s - %s: %v", e.Phase, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PhaseTimeout means no acknowledgment arrived before the read deadline
type PhaseTimeout struct {
	Phase opcode.Command
	After time.Duration
}

func (e *PhaseTimeout) Error() string {
	return fmt.Sprintf("%s - no acknowledgment within %s", e.Phase, e.After)
}

// PhaseRejected carries the raw acknowledgment that was not "OK"
type PhaseRejected struct {
	Phase opcode.Command
	Raw   []byte
}

func (e *PhaseRejected) Error() string {
	ack := StripPadding(e.Raw)
	if len(ack) == 0 {
		return fmt.Sprintf("%s - empty acknowledgment", e.Phase)
	}
	return fmt.Sprintf("%s - %s", e.Phase, ack)
}

// PayloadTooLarge is returned before anything is sent
type PayloadTooLarge struct {
	Size uint64
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("payload of %d bytes does not fit a 4 byte length field", e.Size)
}
