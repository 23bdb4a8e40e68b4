package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"fw_upload/config"
	"fw_upload/constants"
	"fw_upload/logging"
	"fw_upload/networking/opcode"
	server "fw_upload/server/controller"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("server", "Bootloader emulator for "+constants.Title)

	cfgPath := args.String("c", "config", &argparse.Options{Required: false, Help: "Config file (.toml or .yaml)"})
	bind := args.String("l", "listen", &argparse.Options{Required: false, Help: "Listen on address"})
	level := args.String("g", "log", &argparse.Options{Required: false, Help: "Log level"})
	mptcp := args.Flag("m", "mptcp", &argparse.Options{Help: "Enable Multipath TCP"})
	padding := args.Int("n", "nul", &argparse.Options{Required: false, Help: "NUL bytes padded onto every acknowledgment", Default: -1})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Listening port"})
	path := args.String("r", "root", &argparse.Options{Required: false, Help: "Root path for storing received images"})
	compress := args.Flag("z", "lz4", &argparse.Options{Help: "Store received images as LZ4 frames"})
	version := args.String("v", "version", &argparse.Options{Required: false, Help: "Protocol version to answer: 1 or 2"})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	if *bind != "" {
		cfg.Emulator.Listen = *bind
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *padding >= 0 {
		cfg.Emulator.Padding = *padding
	}
	if *path != "" {
		cfg.Emulator.Root = *path
	}
	if *compress {
		cfg.Emulator.Compress = true
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if *version != "" {
		v, err := opcode.ParseVersion(*version)
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		cfg.Version = int(v)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	if cfg.Emulator.Root != "" {
		// Check path validity.
		info, err := os.Stat(cfg.Emulator.Root)
		if err != nil || !info.IsDir() {
			fmt.Println("Invalid root folder -", cfg.Emulator.Root)
			os.Exit(1)
		}
		cfg.Emulator.Root = filepath.Clean(cfg.Emulator.Root)
	}

	logger := logging.New("server", cfg.LogLevel, os.Stderr)
	set, _ := opcode.Lookup(opcode.Version(cfg.Version))

	emulator := server.New(set)
	emulator.Root = cfg.Emulator.Root
	emulator.Compress = cfg.Emulator.Compress
	emulator.Padding = cfg.Emulator.Padding
	emulator.Logger = logger
	emulator.OnImage = func(img server.Image) {
		fmt.Println("Received", len(img.Data), "bytes from", img.Remote, "crc32", hex.EncodeToString(img.Checksum))
	}

	bindTo := net.JoinHostPort(cfg.Emulator.Listen, strconv.Itoa(cfg.Port))
	if err := emulator.StartListening(bindTo, *mptcp || cfg.MPTCP); err != nil {
		fmt.Println("Could not bind listening socket on " + bindTo)
		os.Exit(1)
	}
	fmt.Println("Listening on " + bindTo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := emulator.Serve(ctx); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
