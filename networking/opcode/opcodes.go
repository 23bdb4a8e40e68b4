package opcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one phase of the bootloader handshake
type Command uint8

const (
	BOOT   Command = iota // 0: Enter bootloader
	UPLOAD                // 1: Length-prefixed image transfer
	GO                    // 2: Jump to uploaded program
)

// String returns the phase name used in diagnostics
func (c Command) String() string {
	switch c {
	case BOOT:
		return "Boot"
	case UPLOAD:
		return "Upload"
	case GO:
		return "Go"
	}
	return "Command(" + strconv.Itoa(int(c)) + ")"
}

// Version selects which opcode set is put on the wire
type Version uint8

const (
	V1 Version = 1 // Legacy firmware
	V2 Version = 2 // Current firmware
)

// Set holds the opcode byte of every command for one protocol version
type Set struct {
	Version Version
	Boot    uint8
	Upload  uint8
	Go      uint8
}

var sets = map[Version]Set{
	V1: {Version: V1, Boot: 0x07, Upload: 0x08, Go: 0x09},
	V2: {Version: V2, Boot: 0x10, Upload: 0x11, Go: 0x12},
}

// Lookup returns the opcode set of given version
func Lookup(v Version) (Set, error) {
	set, ok := sets[v]
	if !ok {
		return Set{}, fmt.Errorf("unknown protocol version %d", v)
	}
	return set, nil
}

// ParseVersion accepts "1", "2", "v1" or "v2"
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "v")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid protocol version %q", raw)
	}
	if _, err := Lookup(Version(n)); err != nil {
		return 0, err
	}
	return Version(n), nil
}

// Of returns the opcode byte for given command
func (s Set) Of(c Command) uint8 {
	switch c {
	case BOOT:
		return s.Boot
	case UPLOAD:
		return s.Upload
	default:
		return s.Go
	}
}

// Decode maps an opcode byte back to its command
func (s Set) Decode(b uint8) (Command, bool) {
	switch b {
	case s.Boot:
		return BOOT, true
	case s.Upload:
		return UPLOAD, true
	case s.Go:
		return GO, true
	}
	return 0, false
}
