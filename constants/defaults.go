package constants

import "time"

const Title = "Firmware uploader for remote STM32 bootloaders"

const (
	DEFAULT_PORT         = 4007             // Bootloader TCP port on the target
	DEFAULT_TARGET       = "172.16.34.39"   // Single-target bench board
	DEFAULT_ACK_TIMEOUT  = 60 * time.Second // Per-phase acknowledgment deadline
	DEFAULT_DIAL_TIMEOUT = 10 * time.Second // TCP connect deadline
	ACK_READ_SIZE        = 1024             // Bounded read for each acknowledgment
	MAX_PAYLOAD_SIZE     = 1<<32 - 1        // Largest length a u32 field can carry
	DEFAULT_DSCP         = 0x0A             // QoS for bulk transfer
	DEFAULT_VERSION      = 2                // Opcode set spoken by current firmware
	EMULATOR_RECV_CHUNK  = 0x1000           // Emulator reads images in flash-page sized chunks
	DEFAULT_MONITOR_PORT = 9088             // UDP diagnostic print port
	DATAGRAM_SIZE        = 1024             // Largest datagram the monitor prints
)
