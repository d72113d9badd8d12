package gateway

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boi/internal/assistant"
	"boi/internal/persona"
)

type GestureKind int

const (
	GestureNone GestureKind = iota
	GestureV
	GestureDoubleV
	GesturePalm
)

func (k GestureKind) String() string {
	switch k {
	case GestureV:
		return "v"
	case GestureDoubleV:
		return "double-v"
	case GesturePalm:
		return "palm"
	}
	return "none"
}

func ParseGesture(s string) (GestureKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v", "v-sign":
		return GestureV, nil
	case "double-v", "double_v", "vv":
		return GestureDoubleV, nil
	case "palm", "open-palm":
		return GesturePalm, nil
	case "none", "":
		return GestureNone, nil
	}
	return GestureNone, fmt.Errorf("unknown gesture %q", s)
}

// Observation is one detector frame: the gesture visible at a moment.
type Observation struct {
	Kind GestureKind
	At   time.Time
}

// GestureState is the externally visible gesture status.
type GestureState struct {
	DetectorRunning   bool   `json:"detector_running"`
	SingleVSignAction string `json:"single_v_sign_action"`
	DoubleVSignAction string `json:"double_v_sign_action"`
}

// VoiceControl is the part of the voice gateway gestures drive.
type VoiceControl interface {
	Trigger(src assistant.Source) error
	CancelCapture() bool
	Capturing() bool
}

type GestureConfig struct {
	Enabled       bool
	MinHold       time.Duration
	MaxHold       time.Duration
	GreetCooldown time.Duration
}

// Gesture turns a stream of observations into voice activation, greetings
// and capture cancellation.
type Gesture struct {
	voice VoiceControl
	greet func()
	cfg   GestureConfig
	log   *slog.Logger

	mu        sync.Mutex
	current   GestureKind
	since     time.Time
	fired     bool
	lastGreet time.Time
}

func NewGesture(voice VoiceControl, greet func(), cfg GestureConfig, log *slog.Logger) *Gesture {
	if cfg.MinHold <= 0 {
		cfg.MinHold = time.Second
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = 3 * time.Second
	}
	if cfg.GreetCooldown <= 0 {
		cfg.GreetCooldown = 3 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gesture{voice: voice, greet: greet, cfg: cfg, log: log}
}

func (g *Gesture) Status() GestureState {
	return GestureState{
		DetectorRunning:   g.cfg.Enabled,
		SingleVSignAction: "voice-activate",
		DoubleVSignAction: "greet",
	}
}

// Observe feeds one frame. Frames must arrive in time order.
func (g *Gesture) Observe(o Observation) {
	if !g.cfg.Enabled {
		return
	}

	g.mu.Lock()
	var actions []func()

	if o.Kind == g.current {
		actions = g.holdLocked(o.At)
	} else {
		actions = g.holdLocked(o.At)
		if g.current == GestureV {
			held := o.At.Sub(g.since)
			if held >= g.cfg.MinHold && held <= g.cfg.MaxHold {
				actions = append(actions, g.activate)
			}
		}
		g.current = o.Kind
		g.since = o.At
		g.fired = false
	}
	g.mu.Unlock()

	for _, a := range actions {
		a()
	}
}

// holdLocked fires the actions of gestures that act while still held.
func (g *Gesture) holdLocked(at time.Time) []func() {
	if g.fired || at.Sub(g.since) < g.cfg.MinHold {
		return nil
	}

	switch g.current {
	case GestureDoubleV:
		g.fired = true
		if !g.lastGreet.IsZero() && at.Sub(g.lastGreet) < g.cfg.GreetCooldown {
			g.log.Debug("Greeting suppressed by cooldown")
			return nil
		}
		g.lastGreet = at
		if g.greet != nil {
			return []func(){g.greet}
		}
	case GesturePalm:
		g.fired = true
		if g.voice != nil && g.voice.Capturing() {
			return []func(){func() { g.voice.CancelCapture() }}
		}
	}
	return nil
}

func (g *Gesture) activate() {
	if g.voice == nil {
		return
	}
	g.log.Info("Voice activated by gesture")
	if err := g.voice.Trigger(assistant.SourceGestureVoice); err != nil {
		g.log.Error("Failed to start capture", "err", err)
	}
}

// Simulate replays a gesture held for d, ending at now. The control socket
// uses it in place of a camera.
func (g *Gesture) Simulate(kind GestureKind, d time.Duration, now time.Time) {
	g.Observe(Observation{Kind: kind, At: now.Add(-d)})
	g.Observe(Observation{Kind: kind, At: now})
	g.Observe(Observation{Kind: GestureNone, At: now})
}

// Greeter renders the persona greeting locally, without the dispatcher or
// the language model.
type Greeter struct {
	Persona *persona.Persona
	Display Display
	Speaker Speaker
}

func (g *Greeter) Greet() {
	u := assistant.NewUtterance(assistant.SourceGestureVoice, "greet")
	text := g.Persona.Greet()
	reply := assistant.Reply{UtteranceID: u.ID, Text: text, Kind: assistant.ReplyInfo}
	if g.Speaker != nil && g.Speaker.Enabled() {
		reply.Spoken = g.Speaker.Speak(text)
	}
	g.Display.Reply(u, reply)
}
