package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"fw_upload/client/comms"
	"fw_upload/config"
	"fw_upload/constants"
	"fw_upload/fileio"
	"fw_upload/logging"
	"fw_upload/networking"
	"fw_upload/networking/opcode"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("upload", constants.Title)

	bind := args.String("a", "address", &argparse.Options{Required: false, Help: "Target host address (default " + constants.DEFAULT_TARGET + ")"})
	cfgPath := args.String("c", "config", &argparse.Options{Required: false, Help: "Config file (.toml or .yaml)"})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS", Default: -1})
	file := args.String("f", "file", &argparse.Options{Required: true, Help: "Firmware image path (.lz4 is decompressed)"})
	level := args.String("l", "log", &argparse.Options{Required: false, Help: "Log level (trace, debug, info, warn, error, off)"})
	mptcp := args.Flag("m", "mptcp", &argparse.Options{Help: "Enable Multipath TCP"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Target port (default " + strconv.Itoa(constants.DEFAULT_PORT) + ")"})
	sha := args.Flag("s", "sha", &argparse.Options{Help: "Print SHA256 checksum instead of CRC32"})
	timeout := args.String("t", "timeout", &argparse.Options{Required: false, Help: "Acknowledgment timeout per phase (default " + constants.DEFAULT_ACK_TIMEOUT.String() + ")"})
	version := args.String("v", "version", &argparse.Options{Required: false, Help: "Protocol version: 1 (0x07-0x09) or 2 (0x10-0x12)"})

	err := args.Parse(positionalArgs(os.Args))

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
		os.Exit(1)
	}

	// Flags win over the config file.
	if *bind != "" {
		cfg.Target = *bind
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dscp >= 0 {
		cfg.DSCP = *dscp
	}
	if *timeout != "" {
		cfg.Timeout = *timeout
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if *mptcp {
		cfg.MPTCP = true
	}
	if *version != "" {
		v, err := opcode.ParseVersion(*version)
		if err != nil {
			fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
			os.Exit(1)
		}
		cfg.Version = int(v)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
		os.Exit(1)
	}

	logger := logging.New("upload", cfg.LogLevel, os.Stderr)
	ackTimeout, _ := cfg.AckTimeout()
	set, _ := opcode.Lookup(opcode.Version(cfg.Version))

	// Whole image is read before connecting.
	payload, err := fileio.LoadPayload(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
		os.Exit(1)
	}
	fmt.Println(imageSummary(*file, payload, *sha))

	addr := net.JoinHostPort(cfg.Target, strconv.Itoa(cfg.Port))

	// Connect to host.
	conn, err := comms.Dial(addr, comms.DialOptions{
		Timeout: constants.DEFAULT_DIAL_TIMEOUT,
		DSCP:    cfg.DSCP,
		MPTCP:   cfg.MPTCP,
		Logger:  &logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
		os.Exit(3)
	}
	fmt.Println("[+] Connected to", addr)

	session := comms.NewSession(conn, set)
	session.Timeout = ackTimeout
	session.Logger = logger
	session.OnPhase = printPhase

	begin := time.Now()
	err = session.Run(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[-] Error:", err.Error())
		os.Exit(exitCode(err))
	}

	logger.Debug().Dur("elapsed", time.Since(begin)).Msg("done")
}

// positionalArgs rewrites the short forms "upload <ip> <file>" and "upload <file>" into flags
func positionalArgs(args []string) []string {
	if len(args) < 2 || len(args) > 3 {
		return args
	}
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			return args
		}
	}
	if len(args) == 2 {
		return []string{args[0], "-f", args[1]}
	}
	return []string{args[0], "-a", args[1], "-f", args[2]}
}

// imageSummary describes the loaded image with its checksum
func imageSummary(file string, payload []byte, sha bool) string {
	if sha {
		return fmt.Sprintf("[+] Image %s %d bytes, sha256 %s", file, len(payload), hex.EncodeToString(fileio.ChecksumSHA256(payload)))
	}
	return fmt.Sprintf("[+] Image %s %d bytes, crc32 %s", file, len(payload), hex.EncodeToString(fileio.ChecksumCRC32(payload)))
}

// printPhase prints progress as each phase begins
func printPhase(cmd opcode.Command) {
	switch cmd {
	case opcode.BOOT:
		fmt.Println("[+] Booting...")
	case opcode.UPLOAD:
		fmt.Println("[+] Uploading...")
	case opcode.GO:
		fmt.Println("[+] Go!")
	}
}

// exitCode maps session failures to process status
func exitCode(err error) int {
	var transport *networking.TransportError
	if errors.As(err, &transport) {
		// Lost connection.
		return 3
	}
	return 1
}
