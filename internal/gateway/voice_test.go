package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boi/internal/assistant"
)

type fakeSource struct {
	phrases  chan string
	started  chan struct{}
	mu       sync.Mutex
	captured string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		phrases: make(chan string),
		started: make(chan struct{}, 4),
	}
}

func (f *fakeSource) Listen(ctx context.Context) (string, error) {
	select {
	case p := <-f.phrases:
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeSource) Capture(ctx context.Context, stop <-chan struct{}) (string, error) {
	f.started <- struct{}{}
	select {
	case <-stop:
	case <-ctx.Done():
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured, nil
}

func (f *fakeSource) setCaptured(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = s
}

type fakeSpeaker struct {
	enabled  bool
	speaking atomic.Bool
	said     chan string
}

func (s *fakeSpeaker) Enabled() bool  { return s.enabled }
func (s *fakeSpeaker) Speaking() bool { return s.speaking.Load() }
func (s *fakeSpeaker) Speak(text string) bool {
	if s.said != nil {
		s.said <- text
	}
	return true
}

type voiceHarness struct {
	v       *Voice
	src     *fakeSource
	sub     *fakeSubmitter
	disp    *memDisplay
	speaker *fakeSpeaker
}

func newVoiceHarness(t *testing.T, cfg VoiceConfig) *voiceHarness {
	t.Helper()
	h := &voiceHarness{
		src:     newFakeSource(),
		sub:     newFakeSubmitter(),
		disp:    &memDisplay{},
		speaker: &fakeSpeaker{},
	}
	if cfg.WakeWords == nil {
		cfg.WakeWords = []string{"boi"}
	}
	h.v = NewVoice(h.src, h.sub, h.disp, h.speaker, cfg, quiet)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.v.Close(ctx))
	})
	return h
}

func (h *voiceHarness) say(t *testing.T, phrase string) {
	t.Helper()
	select {
	case h.src.phrases <- phrase:
	case <-time.After(time.Second):
		t.Fatalf("nobody listening for %q", phrase)
	}
}

func (h *voiceHarness) next(t *testing.T) assistant.Utterance {
	t.Helper()
	select {
	case u := <-h.sub.submitted:
		return u
	case <-time.After(time.Second):
		t.Fatal("no utterance submitted")
	}
	return assistant.Utterance{}
}

func TestWakeWordActivation(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: true})
	h.v.SetListening(true)
	assert.Equal(t, ModeWake, h.v.Mode())

	h.say(t, "just chatting nearby")
	h.say(t, "BOI open notepad")

	u := h.next(t)
	assert.Equal(t, "open notepad", u.RawText)
	assert.Equal(t, assistant.SourceVoice, u.Source)
	assert.Equal(t, 1, h.sub.count())
}

func TestOpenListeningSubmitsEveryPhrase(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: false})
	h.v.SetListening(true)
	assert.Equal(t, ModeOpen, h.v.Mode())

	h.say(t, "what time is it")
	assert.Equal(t, "what time is it", h.next(t).RawText)

	h.v.SetWakeEnabled(true)
	assert.Equal(t, ModeWake, h.v.Mode())
}

func TestStopPhraseTurnsVoiceOff(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: true})
	h.v.SetListening(true)

	h.say(t, "BOI stop listening")

	require.Eventually(t, func() bool { return h.v.Mode() == ModeOff }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.sub.count())
	replies := h.disp.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, assistant.ReplyInfo, replies[0].Kind)
}

func TestPhrasesIgnoredWhileSpeaking(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: false})
	h.v.SetListening(true)

	h.speaker.speaking.Store(true)
	h.say(t, "echo of our own voice")
	// the loop only takes the next phrase once the previous one is handled
	h.say(t, "")
	h.speaker.speaking.Store(false)
	h.say(t, "real command")

	assert.Equal(t, "real command", h.next(t).RawText)
	assert.Equal(t, 1, h.sub.count())
}

func TestPushToTalkSecondTriggerEndsCapture(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{})
	h.src.setCaptured("open the calendar")

	require.NoError(t, h.v.Trigger(assistant.SourceVoice))
	<-h.src.started
	assert.Equal(t, ModePTT, h.v.Mode())
	assert.True(t, h.v.Status().Capturing)

	require.NoError(t, h.v.Trigger(assistant.SourceVoice))

	u := h.next(t)
	assert.Equal(t, "open the calendar", u.RawText)
	require.Eventually(t, func() bool { return h.v.Mode() == ModeOff }, time.Second, 5*time.Millisecond)
}

func TestCaptureTimeoutSubmitsWhatWasHeard(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{CaptureTimeout: 30 * time.Millisecond})
	h.src.setCaptured("partial sentence")

	start := time.Now()
	require.NoError(t, h.v.Trigger(assistant.SourceGestureVoice))

	u := h.next(t)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "partial sentence", u.RawText)
	assert.Equal(t, assistant.SourceGestureVoice, u.Source)
}

func TestEmptyCaptureEmitsNothing(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{CaptureTimeout: 10 * time.Millisecond})
	h.src.setCaptured("   ")

	require.NoError(t, h.v.Trigger(assistant.SourceVoice))
	<-h.src.started
	require.Eventually(t, func() bool { return !h.v.Capturing() }, time.Second, 5*time.Millisecond)

	assert.Zero(t, h.sub.count())
}

func TestCancelCaptureReturnsToPriorMode(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: true})
	h.v.SetListening(true)
	h.src.setCaptured("do not submit me")

	require.NoError(t, h.v.Trigger(assistant.SourceVoice))
	<-h.src.started
	assert.True(t, h.v.CancelCapture())

	require.Eventually(t, func() bool { return h.v.Mode() == ModeWake }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.sub.count())
	assert.False(t, h.v.CancelCapture())

	// the listening loop is back
	h.say(t, "boi hello")
	assert.Equal(t, "hello", h.next(t).RawText)
}

func TestVoiceConfirmationListensForYes(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{CaptureTimeout: 20 * time.Millisecond})
	h.sub.ask = true
	h.src.setCaptured("yes please")

	_, err := h.v.Inject(context.Background(), "delete my downloads")
	require.NoError(t, err)

	h.sub.mu.Lock()
	defer h.sub.mu.Unlock()
	assert.Equal(t, []bool{true}, h.sub.confirmed)
}

func TestVoiceStatus(t *testing.T) {
	h := newVoiceHarness(t, VoiceConfig{WakeEnabled: true, WakeWords: []string{"boi", "computer"}})
	h.speaker.enabled = true

	st := h.v.Status()
	assert.Equal(t, "voice_off", st.Mode)
	assert.False(t, st.Listening)
	assert.True(t, st.WakeWordArmed)
	assert.True(t, st.SpeakingEnabled)
	assert.Equal(t, []string{"boi", "computer"}, st.WakeWords)

	h.v.SetWakeWords([]string{"jarvis"})
	h.v.SetListening(true)
	st = h.v.Status()
	assert.True(t, st.Listening)
	assert.Equal(t, []string{"jarvis"}, st.WakeWords)

	h.v.SetListening(false)
	assert.Equal(t, ModeOff, h.v.Mode())
}
