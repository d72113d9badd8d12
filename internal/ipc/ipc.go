// Package ipc is the control channel between boi-ctl and the daemon: one JSON
// ControlMessage per connection over a unix socket, answered by one
// ControlReply.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocket = "/tmp/boi.sock"

const ioTimeout = 5 * time.Second

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
	Arg  string `json:"arg,omitempty"`
	// Confirm pre-answers a confirmation prompt for a say command.
	Confirm bool `json:"confirm,omitempty"`
}

type ControlReply struct {
	OK   bool   `json:"ok"`
	Text string `json:"text,omitempty"`
	Kind string `json:"kind,omitempty"`
}

func Errorf(format string, args ...any) ControlReply {
	return ControlReply{OK: false, Text: fmt.Sprintf(format, args...), Kind: "err"}
}

type Handler interface {
	HandleControl(ctx context.Context, msg ControlMessage) ControlReply
}

type HandlerFunc func(ctx context.Context, msg ControlMessage) ControlReply

func (f HandlerFunc) HandleControl(ctx context.Context, msg ControlMessage) ControlReply {
	return f(ctx, msg)
}

type Server struct {
	path string
	ln   net.Listener
	h    Handler
	log  *slog.Logger
	wg   sync.WaitGroup
}

// Listen binds the socket, replacing a stale one left by a previous run.
func Listen(path string, h Handler, log *slog.Logger) (*Server, error) {
	if path == "" {
		path = DefaultSocket
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln, h: h, log: log}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx ends, then waits for open ones.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer os.Remove(s.path)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		s.log.Warn("Failed to decode control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Errorf("bad request: %v", err))
		return
	}
	s.log.Debug("Control message", "cmd", msg.Cmd, "arg", msg.Arg)

	reply := s.h.HandleControl(ctx, msg)

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		s.log.Warn("Failed to write control reply", "err", err)
	}
}

// Send delivers one message and waits for the reply. Commands such as say
// block until the assistant has answered, so ctx should be generous.
func Send(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	if path == "" {
		path = DefaultSocket
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		if ctx.Err() != nil {
			return ControlReply{}, ctx.Err()
		}
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
