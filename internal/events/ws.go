package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// WSForwarder pushes bus envelopes to a WebSocket hub as JSON text frames,
// for a web UI or any other remote listener. The connection is redialled
// whenever a write fails.
type WSForwarder struct {
	url     string
	backoff time.Duration
	dialer  *websocket.Dialer
	log     *slog.Logger

	conn *websocket.Conn
}

func NewWSForwarder(url string, backoff time.Duration, log *slog.Logger) *WSForwarder {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSForwarder{
		url:     url,
		backoff: backoff,
		dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

// Run forwards envelopes until in is closed or ctx is done. Envelopes that
// arrive while the hub is unreachable are dropped.
func (f *WSForwarder) Run(ctx context.Context, in <-chan Envelope) {
	defer f.close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if err := f.send(ctx, env); err != nil {
				f.log.Warn("Failed to forward event", "url", f.url, "topic", env.Topic, "err", err)
			}
		}
	}
}

func (f *WSForwarder) send(ctx context.Context, env Envelope) error {
	data, err := env.JSON()
	if err != nil {
		return err
	}

	if f.conn == nil {
		if err := f.dial(ctx); err != nil {
			return err
		}
	}

	if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		f.close()
		// one redial per envelope; the next envelope retries again
		if derr := f.dial(ctx); derr != nil {
			return err
		}
		return f.conn.WriteMessage(websocket.TextMessage, data)
	}
	return nil
}

func (f *WSForwarder) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, f.backoff)
	defer cancel()

	conn, _, err := f.dialer.DialContext(dctx, f.url, nil)
	if err != nil {
		return err
	}
	f.log.Info("Connected to event hub", "url", f.url)
	f.conn = conn
	return nil
}

func (f *WSForwarder) close() {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
