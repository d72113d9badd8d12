package tts

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	mu     sync.Mutex
	spoken []string
	err    error
	hold   chan struct{}
	said   chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{said: make(chan string, 16)}
}

func (f *fakeEngine) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	hold, err := f.hold, f.err
	f.mu.Unlock()

	f.said <- text
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeEngine) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeDucker struct {
	mu    sync.Mutex
	calls []string
}

func (d *fakeDucker) Duck(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "duck")
	return nil
}

func (d *fakeDucker) Restore(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "restore")
	return nil
}

func closeSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func waitIdle(t *testing.T, s *Sink) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Speaking() }, time.Second, 5*time.Millisecond)
}

func TestSpeakRunsOnWorker(t *testing.T) {
	eng := newFakeEngine()
	d := &fakeDucker{}
	s := New(eng, Config{Enabled: true, Ducker: d}, nil)
	defer closeSink(t, s)

	assert.True(t, s.Speak("  hello  "))
	assert.Equal(t, "hello", <-eng.said)
	waitIdle(t, s)

	d.mu.Lock()
	assert.Equal(t, []string{"duck", "restore"}, d.calls)
	d.mu.Unlock()
}

func TestDropNewWhileSpeaking(t *testing.T) {
	eng := newFakeEngine()
	eng.hold = make(chan struct{})
	s := New(eng, Config{Enabled: true}, nil)
	defer closeSink(t, s)

	require.True(t, s.Speak("first"))
	<-eng.said
	assert.True(t, s.Speaking())

	assert.False(t, s.Speak("second"))

	close(eng.hold)
	waitIdle(t, s)
	assert.Equal(t, []string{"first"}, eng.Spoken())

	assert.True(t, s.Speak("third"))
	assert.Equal(t, "third", <-eng.said)
}

func TestDisabledSinkIgnoresText(t *testing.T) {
	eng := newFakeEngine()
	s := New(eng, Config{Enabled: false}, nil)
	defer closeSink(t, s)

	assert.False(t, s.Enabled())
	assert.False(t, s.Speak("hello"))

	s.SetEnabled(true)
	assert.True(t, s.Speak("hello"))
	<-eng.said
	assert.False(t, s.Speak(""))
}

func TestNilEngineNeverEnables(t *testing.T) {
	s := New(nil, Config{Enabled: true}, nil)
	defer closeSink(t, s)

	assert.False(t, s.Enabled())
	s.SetEnabled(true)
	assert.False(t, s.Speak("hello"))
}

func TestLongTextSummarizedInWorker(t *testing.T) {
	eng := newFakeEngine()
	s := New(eng, Config{Enabled: true, SummarizeOver: 40}, nil)
	defer closeSink(t, s)

	long := "The file was saved. It contains forty two rows of data and several charts."
	require.True(t, s.Speak(long))
	assert.Equal(t, "The file was saved."+longTail, <-eng.said)
}

func TestEngineErrorsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	log := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))

	eng := newFakeEngine()
	eng.err = errors.New("no audio device")
	s := New(eng, Config{Enabled: true}, log)
	defer closeSink(t, s)

	for i := 0; i < 3; i++ {
		require.True(t, s.Speak("hello"))
		<-eng.said
		waitIdle(t, s)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, strings.Count(buf.String(), "Failed to speak"))
}

func TestCloseInterruptsSpeech(t *testing.T) {
	eng := newFakeEngine()
	eng.hold = make(chan struct{})
	s := New(eng, Config{Enabled: true}, nil)

	require.True(t, s.Speak("a very long story"))
	<-eng.said

	closeSink(t, s)
	assert.False(t, s.Speak("after close"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize("short", 200))

	assert.Equal(t, "One. Two."+longTail, Summarize("One. Two. Three is much longer than the rest", 12))

	// no sentence end within the limit: cut at a word boundary
	assert.Equal(t, "alpha beta"+longTail, Summarize("alpha beta gamma delta", 12))

	// a single huge word is cut hard
	assert.Equal(t, "abcde"+longTail, Summarize("abcdefghij", 5))
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
