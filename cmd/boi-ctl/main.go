package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"boi/internal/ipc"
)

const usage = `usage: boi-ctl [flags] <command> [args]

commands:
  say <text...>            submit a typed command
  trigger                  start or end push-to-talk capture
  voice off|wake|open|wake-on|wake-off|status
  wake-word <w1,w2,...>    replace the wake words
  gesture <kind> [hold]    simulate a held gesture (v, double-v, palm)
  transcribe <file>        run a recorded memo through speech recognition
  tts on|off               toggle spoken replies
  status                   print daemon state as JSON

flags:
`

const (
	exitOK = iota
	exitFailed
	exitUsage
	exitNoDaemon
)

func main() {
	os.Exit(run())
}

func run() int {
	socket := cli.StringP("socket", "s", ipc.DefaultSocket, "daemon control socket")
	yes := cli.BoolP("yes", "y", false, "approve destructive actions")
	timeout := cli.Duration("timeout", 2*time.Minute, "how long to wait for a reply")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	msg, err := message(cli.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "boi-ctl:", err)
		cli.Usage()
		return exitUsage
	}
	msg.Confirm = *yes

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, msg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			fmt.Fprintln(os.Stderr, "boi-daemon not running:", err)
			return exitNoDaemon
		}
		fmt.Fprintln(os.Stderr, "boi-ctl:", err)
		return exitFailed
	}

	if reply.Text != "" {
		fmt.Println(reply.Text)
	}
	if !reply.OK {
		return exitFailed
	}
	return exitOK
}

func message(args []string) (ipc.ControlMessage, error) {
	if len(args) == 0 {
		return ipc.ControlMessage{}, errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	msg := ipc.ControlMessage{Cmd: cmd}

	switch cmd {
	case "say":
		msg.Text = strings.Join(rest, " ")
		if strings.TrimSpace(msg.Text) == "" {
			return msg, errors.New("say needs some text")
		}
	case "trigger", "status":
		if len(rest) != 0 {
			return msg, fmt.Errorf("%s takes no arguments", cmd)
		}
	case "voice", "tts", "wake-word":
		if len(rest) != 1 {
			return msg, fmt.Errorf("%s takes exactly one argument", cmd)
		}
		msg.Arg = rest[0]
	case "gesture":
		if len(rest) < 1 || len(rest) > 2 {
			return msg, errors.New("gesture takes a kind and an optional hold duration")
		}
		msg.Arg = rest[0]
		if len(rest) == 2 {
			msg.Text = rest[1]
		}
	case "transcribe":
		if len(rest) != 1 {
			return msg, errors.New("transcribe takes one audio file")
		}
		// the daemon runs elsewhere
		p, err := filepath.Abs(rest[0])
		if err != nil {
			return msg, err
		}
		msg.Arg = p
	default:
		return msg, fmt.Errorf("unknown command %q", cmd)
	}
	return msg, nil
}
