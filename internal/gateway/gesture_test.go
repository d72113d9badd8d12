package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"boi/internal/assistant"
	"boi/internal/persona"
)

type fakeVoiceControl struct {
	mu        sync.Mutex
	triggers  []assistant.Source
	cancels   int
	capturing bool
}

func (f *fakeVoiceControl) Trigger(src assistant.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, src)
	return nil
}

func (f *fakeVoiceControl) CancelCapture() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.capturing
}

func (f *fakeVoiceControl) Capturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func frames(g *Gesture, kind GestureKind, from, to time.Duration) {
	for d := from; d <= to; d += 100 * time.Millisecond {
		g.Observe(Observation{Kind: kind, At: t0.Add(d)})
	}
}

func TestSingleVActivatesVoiceOnRelease(t *testing.T) {
	vc := &fakeVoiceControl{}
	g := NewGesture(vc, nil, GestureConfig{Enabled: true}, quiet)

	frames(g, GestureV, 0, 1500*time.Millisecond)
	assert.Empty(t, vc.triggers, "nothing happens while the sign is held")

	g.Observe(Observation{Kind: GestureNone, At: t0.Add(1600 * time.Millisecond)})
	assert.Equal(t, []assistant.Source{assistant.SourceGestureVoice}, vc.triggers)
}

func TestSingleVOutsideWindowIgnored(t *testing.T) {
	vc := &fakeVoiceControl{}
	g := NewGesture(vc, nil, GestureConfig{Enabled: true}, quiet)

	// too short
	frames(g, GestureV, 0, 500*time.Millisecond)
	g.Observe(Observation{Kind: GestureNone, At: t0.Add(600 * time.Millisecond)})

	// too long
	frames(g, GestureV, time.Second, 5*time.Second)
	g.Observe(Observation{Kind: GestureNone, At: t0.Add(5100 * time.Millisecond)})

	assert.Empty(t, vc.triggers)
}

func TestDoubleVGreetsOnceWithCooldown(t *testing.T) {
	greets := 0
	g := NewGesture(&fakeVoiceControl{}, func() { greets++ }, GestureConfig{Enabled: true}, quiet)

	frames(g, GestureDoubleV, 0, 2*time.Second)
	assert.Equal(t, 1, greets, "one greeting per hold")

	g.Observe(Observation{Kind: GestureNone, At: t0.Add(2100 * time.Millisecond)})
	frames(g, GestureDoubleV, 2200*time.Millisecond, 3500*time.Millisecond)
	assert.Equal(t, 1, greets, "cooldown suppresses")

	g.Observe(Observation{Kind: GestureNone, At: t0.Add(3600 * time.Millisecond)})
	frames(g, GestureDoubleV, 4*time.Second, 5500*time.Millisecond)
	assert.Equal(t, 2, greets)
}

func TestPalmCancelsCapture(t *testing.T) {
	vc := &fakeVoiceControl{capturing: true}
	g := NewGesture(vc, nil, GestureConfig{Enabled: true}, quiet)

	frames(g, GesturePalm, 0, 1500*time.Millisecond)
	assert.Equal(t, 1, vc.cancels)

	idle := &fakeVoiceControl{}
	g = NewGesture(idle, nil, GestureConfig{Enabled: true}, quiet)
	frames(g, GesturePalm, 0, 1500*time.Millisecond)
	assert.Zero(t, idle.cancels)
}

func TestDisabledGestureIgnoresFrames(t *testing.T) {
	vc := &fakeVoiceControl{}
	g := NewGesture(vc, nil, GestureConfig{Enabled: false}, quiet)
	g.Simulate(GestureV, 1500*time.Millisecond, t0)
	assert.Empty(t, vc.triggers)
	assert.False(t, g.Status().DetectorRunning)
	assert.Equal(t, "voice-activate", g.Status().SingleVSignAction)
}

func TestDoubleVGreetingWithoutLLM(t *testing.T) {
	disp := &memDisplay{}
	speaker := &fakeSpeaker{enabled: true, said: make(chan string, 1)}
	p := persona.New(persona.Config{Enabled: true, Name: "BOI"}).WithClock(func() time.Time { return t0 })
	greeter := &Greeter{Persona: p, Display: disp, Speaker: speaker}

	g := NewGesture(&fakeVoiceControl{}, greeter.Greet, GestureConfig{Enabled: true}, quiet)
	g.Simulate(GestureDoubleV, time.Second, t0)

	replies := disp.Replies()
	if assert.Len(t, replies, 1) {
		assert.Equal(t, assistant.ReplyInfo, replies[0].Kind)
		assert.Equal(t, p.Greet(), replies[0].Text)
		assert.True(t, replies[0].Spoken)
	}
	assert.Equal(t, p.Greet(), <-speaker.said)
}

func TestParseGesture(t *testing.T) {
	k, err := ParseGesture("Double-V")
	assert.NoError(t, err)
	assert.Equal(t, GestureDoubleV, k)

	_, err = ParseGesture("thumbs-up")
	assert.Error(t, err)
}
