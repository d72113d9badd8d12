package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("device hub not connected")

type LinkConfig struct {
	// Shard is this side's address on the hub.
	Shard string
	URL   string
	// Retry is the pause between reconnect attempts.
	Retry time.Duration
	// Timeout bounds one request/response exchange.
	Timeout time.Duration
	// OnFrame receives frames addressed to us that answer no request.
	OnFrame func(*Frame)
}

// Link is a reconnecting WebSocket connection to the device hub. Run owns the
// connection; Request may be called from any goroutine.
type Link struct {
	cfg LinkConfig
	log *slog.Logger

	// reqMu keeps one request in flight; replies carry no correlation id.
	reqMu sync.Mutex

	mu     sync.Mutex
	conn   *ws.Conn
	waiter chan *Frame
}

func NewLink(cfg LinkConfig, log *slog.Logger) *Link {
	if cfg.Retry <= 0 {
		cfg.Retry = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Link{cfg: cfg, log: log}
}

func (l *Link) Shard() string { return l.cfg.Shard }

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Request sends f and waits for the next frame addressed to us.
func (l *Link) Request(ctx context.Context, f Frame) (*Frame, error) {
	f.From = l.cfg.Shard
	if err := f.Validate(); err != nil {
		return nil, err
	}

	l.reqMu.Lock()
	defer l.reqMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	w := make(chan *Frame, 1)
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	l.waiter = w
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiter = nil
		l.mu.Unlock()
	}()

	if err := l.write(conn, f.String()); err != nil {
		return nil, fmt.Errorf("send %s: %w", f.Noun, err)
	}

	select {
	case resp := <-w:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", f.Noun, ctx.Err())
	}
}

func (l *Link) write(conn *ws.Conn, msg string) error {
	l.log.Debug("Write ws", "msg", msg)
	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.Timeout))
	return conn.WriteMessage(ws.TextMessage, []byte(msg))
}

// Run dials the hub and reads frames until ctx ends, reconnecting whenever
// the connection drops.
func (l *Link) Run(ctx context.Context) error {
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("Failed to dial device hub", "url", l.cfg.URL, "err", err)
		} else {
			l.log.Info("Connected to device hub", "url", l.cfg.URL)
			l.serve(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("Device hub connection lost, reconnecting", "url", l.cfg.URL)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.Retry):
		}
	}
}

func (l *Link) serve(ctx context.Context, conn *ws.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !isClosed(err) {
				l.log.Error("Failed to read", "err", err)
			}
			return
		}
		l.log.Debug("Read ws", "msg", string(raw))
		l.deliver(string(raw))
	}
}

func (l *Link) deliver(raw string) {
	f, err := Parse(raw)
	if err != nil {
		l.log.Warn("Failed to parse", "msg", raw, "err", err)
		return
	}
	if f.To != l.cfg.Shard && f.To != Broadcast {
		return
	}

	l.mu.Lock()
	w := l.waiter
	l.waiter = nil
	l.mu.Unlock()

	switch {
	case w != nil:
		w <- f
	case l.cfg.OnFrame != nil:
		l.cfg.OnFrame(f)
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
