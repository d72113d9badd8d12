package ipc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(t *testing.T, h Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boi.sock")
	srv, err := Listen(path, h, quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		assert.NoFileExists(t, path)
	})
	return path
}

func TestRoundTrip(t *testing.T) {
	path := serve(t, HandlerFunc(func(_ context.Context, msg ControlMessage) ControlReply {
		if msg.Cmd != "say" {
			return Errorf("unknown command %q", msg.Cmd)
		}
		return ControlReply{OK: msg.Confirm, Text: "heard: " + msg.Text, Kind: "ok"}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := Send(ctx, path, ControlMessage{Cmd: "say", Text: "what time is it", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, ControlReply{OK: true, Text: "heard: what time is it", Kind: "ok"}, reply)

	reply, err = Send(ctx, path, ControlMessage{Cmd: "dance"})
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, `unknown command "dance"`, reply.Text)
}

func TestBadRequest(t *testing.T) {
	path := serve(t, HandlerFunc(func(context.Context, ControlMessage) ControlReply {
		t.Error("handler must not run")
		return ControlReply{}
	}))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	buf, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"ok":false`)
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "none.sock"), ControlMessage{Cmd: "trigger"})
	assert.ErrorContains(t, err, "connect to daemon")
}

func TestSendHonoursContext(t *testing.T) {
	release := make(chan struct{})
	path := serve(t, HandlerFunc(func(context.Context, ControlMessage) ControlReply {
		<-release
		return ControlReply{OK: true}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Send(ctx, path, ControlMessage{Cmd: "say", Text: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
