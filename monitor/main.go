package main

import (
	"context"
	"fmt"
	"fw_upload/config"
	"fw_upload/logging"
	"fw_upload/monitor/listener"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("monitor", "Prints diagnostic datagrams sent by the target")

	cfgPath := args.String("c", "config", &argparse.Options{Required: false, Help: "Config file (.toml or .yaml)"})
	bind := args.String("l", "listen", &argparse.Options{Required: false, Help: "Listen on address"})
	level := args.String("g", "log", &argparse.Options{Required: false, Help: "Log level"})
	ports := args.IntList("p", "port", &argparse.Options{Required: false, Help: "UDP port, repeat for several"})

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
		cfg.Monitor.Listen = *bind
	}
	if len(*ports) > 0 {
		cfg.Monitor.Ports = *ports
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	l := listener.New(os.Stdout)
	l.Logger = logging.New("monitor", cfg.LogLevel, os.Stderr)

	if err := l.Bind(cfg.Monitor.Listen, cfg.Monitor.Ports); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	for _, addr := range l.Addrs() {
		fmt.Println("Listening on", addr.String()+"...")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l.Serve(ctx)
}
