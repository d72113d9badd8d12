package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"boi/internal/assistant"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func closeBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))
}

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestBusPreservesOrder(t *testing.T) {
	b := NewBus(nil)
	defer closeBus(t, b)

	ch := b.Subscribe("ui", 16)

	b.Emit(CommandStarted, StartedPayload{UtteranceID: "u1"})
	b.Emit(CommandCompleted, CompletedPayload{UtteranceID: "u1"})

	first := recv(t, ch)
	second := recv(t, ch)
	assert.Equal(t, CommandStarted, first.Topic)
	assert.Equal(t, CommandCompleted, second.Topic)
	assert.Equal(t, "u1", second.UtteranceID())
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEmitNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus(nil)
	defer closeBus(t, b)

	b.Subscribe("slow", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*defaultQueue; i++ {
			b.Emit(CommandStarted, StartedPayload{UtteranceID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
}

func TestSubscribeFuncSurvivesPanics(t *testing.T) {
	b := NewBus(nil)

	var (
		mu  sync.Mutex
		got []Topic
	)
	calls := 0
	b.SubscribeFunc("flaky", func(env Envelope) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("boom")
		}
		got = append(got, env.Topic)
	})

	b.Emit(CommandStarted, StartedPayload{UtteranceID: "u1"})
	b.Emit(CommandFailed, FailedPayload{UtteranceID: "u1", Kind: assistant.KindParseInvalid})

	closeBus(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Topic{CommandFailed}, got)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil)
	defer closeBus(t, b)

	ch := b.Subscribe("ui", 1)
	b.Unsubscribe("ui")

	_, ok := <-ch
	assert.False(t, ok)
}

func TestEmitAfterCloseIsIgnored(t *testing.T) {
	b := NewBus(nil)
	closeBus(t, b)
	b.Emit(CommandStarted, StartedPayload{UtteranceID: "late"})
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{ID: "e1", Topic: CommandFailed, Payload: FailedPayload{
		UtteranceID: "u1",
		Error:       "bad json",
		Kind:        assistant.KindParseInvalid,
	}}
	data, err := env.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "command_failed", decoded["topic"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "ParseInvalid", payload["kind"])
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	start := time.Now()

	m.Observe(Envelope{Payload: StartedPayload{UtteranceID: "u1", TS: start}})
	m.Observe(Envelope{Payload: CompletedPayload{UtteranceID: "u1", Action: "screenshot", TS: start.Add(time.Second)}})
	m.Observe(Envelope{Payload: StartedPayload{UtteranceID: "u2", TS: start}})
	m.Observe(Envelope{Payload: FailedPayload{UtteranceID: "u2", Action: "error", Kind: assistant.KindParseInvalid, TS: start}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("screenshot", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("error", "ParseInvalid")))
	assert.Empty(t, m.started)
}

func TestWSForwarder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	fwd := NewWSForwarder(url, time.Second, nil)

	in := make(chan Envelope, 1)
	done := make(chan struct{})
	go func() {
		fwd.Run(context.Background(), in)
		close(done)
	}()

	in <- Envelope{ID: "e1", Topic: CommandStarted, Payload: StartedPayload{UtteranceID: "u1"}}

	select {
	case msg := <-received:
		assert.Contains(t, msg, `"topic":"command_started"`)
		assert.Contains(t, msg, `"utterance_id":"u1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("hub never received the envelope")
	}

	close(in)
	<-done
}
