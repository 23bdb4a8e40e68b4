package networking

import "fw_upload/constants"

// LengthPrefixSize is the size of the image length sent after the Upload opcode
const LengthPrefixSize = 4

// AckOK is the affirmative acknowledgment body
var AckOK = []byte("OK")

// Rejection bodies sent by the emulator
const (
	RejectNotBooted     = "ERR: not in bootloader"
	RejectNoImage       = "ERR: no image"
	RejectUnknownOpcode = "ERR: unknown opcode"
)

// MaxAckPadding is the most NUL padding an acknowledgment can carry and still
// arrive in one client read. The longest body is the unknown opcode rejection.
const MaxAckPadding = constants.ACK_READ_SIZE - len(RejectUnknownOpcode) - len(" 0x00")
