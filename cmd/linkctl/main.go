package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nyiyui/linkd/control"
	"github.com/nyiyui/linkd/util"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-socket path] interval SECONDS | exit | status\n", os.Args[0])
	flag.PrintDefaults()
}

func parseCommand(args []string) (control.Command, error) {
	if len(args) == 0 {
		return control.Command{}, fmt.Errorf("no command given")
	}
	switch args[0] {
	case "interval":
		if len(args) != 2 {
			return control.Command{}, fmt.Errorf("interval takes exactly one argument")
		}
		n, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return control.Command{}, fmt.Errorf("interval: %w", err)
		}
		if n < 1 {
			return control.Command{}, fmt.Errorf("interval must be at least 1 second")
		}
		return control.Command{Type: control.TypeInterval, Payload: uint32(n)}, nil
	case "exit":
		return control.Command{Type: control.TypeExit}, nil
	case "status":
		return control.Command{Type: control.TypeStatus}, nil
	default:
		return control.Command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func main() {
	var socketPath string
	var timeout time.Duration
	flag.StringVar(&socketPath, "socket", control.DefaultPath, "control socket path")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "dial timeout")
	flag.Usage = usage
	flag.Parse()
	util.SetupLog()
	defer zap.S().Sync()

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := control.Dial(ctx, socketPath)
	if err != nil {
		zap.S().Fatalf("connecting to %s failed: %s", socketPath, err)
	}
	defer client.Close()
	reply, err := client.Send(cmd)
	if err != nil {
		zap.S().Fatalf("%s failed: %s", cmd, err)
	}
	fmt.Println(reply)
}
