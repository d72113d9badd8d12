package protocol

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// hub answers every frame it receives with OK, after first pushing an
// unsolicited broadcast.
func hub(t *testing.T, got chan<- string) *httptest.Server {
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(ws.TextMessage, []byte("ALL:PING:HUB:hub"))
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- string(raw)
			req, err := Parse(string(raw))
			if !assert.NoError(t, err) {
				return
			}
			// noise for another shard first
			_ = conn.WriteMessage(ws.TextMessage, []byte("other:OK:X:hub"))
			_ = conn.WriteMessage(ws.TextMessage, []byte(req.Reply("hub", true, req.Noun, req.Verb).String()))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLinkRequest(t *testing.T) {
	got := make(chan string, 4)
	srv := hub(t, got)

	unsolicited := make(chan *Frame, 1)
	l := NewLink(LinkConfig{
		Shard:   "boi",
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Retry:   10 * time.Millisecond,
		Timeout: time.Second,
		OnFrame: func(f *Frame) { unsolicited <- f },
	}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ping := <-unsolicited
	assert.Equal(t, "PING", ping.Verb)
	require.True(t, l.Connected())

	resp, err := l.Request(context.Background(), Frame{To: "VERTEX", Verb: "ON", Noun: "LAMP"})
	require.NoError(t, err)
	assert.Equal(t, "VERTEX:ON:LAMP:boi", <-got)
	assert.True(t, resp.OK())
	assert.Equal(t, []string{"ON"}, resp.Args)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, l.Connected())
}

func TestLinkNotConnected(t *testing.T) {
	l := NewLink(LinkConfig{Shard: "boi", URL: "ws://127.0.0.1:1"}, quiet)
	_, err := l.Request(context.Background(), Frame{To: "VERTEX", Verb: "ON", Noun: "LAMP"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = l.Request(context.Background(), Frame{To: "VER TEX", Verb: "ON", Noun: "LAMP"})
	assert.Error(t, err)
}
