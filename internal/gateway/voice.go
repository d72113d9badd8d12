package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boi/internal/assistant"
)

// PhraseSource turns microphone audio into text.
type PhraseSource interface {
	// Listen blocks until one phrase has been heard and transcribed. It
	// returns "" for silence or noise.
	Listen(ctx context.Context) (string, error)
	// Capture records until stop is closed or ctx ends and transcribes
	// whatever was recorded.
	Capture(ctx context.Context, stop <-chan struct{}) (string, error)
}

type Mode int

const (
	ModeOff Mode = iota
	ModeWake
	ModeOpen
	ModePTT
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "voice_off"
	case ModeWake:
		return "voice_listening_wake"
	case ModeOpen:
		return "voice_listening_open"
	case ModePTT:
		return "ptt_capturing"
	}
	return "unknown"
}

// VoiceState is the externally visible voice status.
type VoiceState struct {
	Mode            string   `json:"mode"`
	Listening       bool     `json:"listening"`
	WakeWordArmed   bool     `json:"wake_word_armed"`
	WakeWords       []string `json:"wake_words"`
	SpeakingEnabled bool     `json:"speaking_enabled"`
	Speaking        bool     `json:"speaking"`
	Capturing       bool     `json:"capturing"`
}

type VoiceConfig struct {
	WakeWords      []string
	WakeEnabled    bool
	CaptureTimeout time.Duration
	// Cue is called when a push-to-talk capture starts.
	Cue func()
}

var ErrVoiceClosed = errors.New("voice gateway is closed")

type listenLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type captureState struct {
	stop      chan struct{}
	once      sync.Once
	prior     Mode
	source    assistant.Source
	cancelled bool
	// answer receives the transcript instead of submitting it.
	answer chan string
}

func (c *captureState) end() {
	c.once.Do(func() { close(c.stop) })
}

// Voice owns the microphone: continuous listening with or without a wake
// word, and single push-to-talk captures.
type Voice struct {
	src     PhraseSource
	sub     Submitter
	display Display
	speaker Speaker
	cfg     VoiceConfig
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	mode        Mode
	wakeEnabled bool
	wakeWords   []string
	loop        *listenLoop
	capture     *captureState
}

func NewVoice(src PhraseSource, sub Submitter, display Display, speaker Speaker, cfg VoiceConfig, log *slog.Logger) *Voice {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Voice{
		src:         src,
		sub:         sub,
		display:     display,
		speaker:     speaker,
		cfg:         cfg,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		wakeEnabled: cfg.WakeEnabled,
		wakeWords:   append([]string(nil), cfg.WakeWords...),
	}
}

func (v *Voice) listeningMode() Mode {
	if v.wakeEnabled {
		return ModeWake
	}
	return ModeOpen
}

// SetListening switches continuous listening on or off.
func (v *Voice) SetListening(on bool) {
	v.mu.Lock()
	var stopped *listenLoop
	switch {
	case v.capture != nil:
		// applied when the capture ends
		if on {
			v.capture.prior = v.listeningMode()
		} else {
			v.capture.prior = ModeOff
		}
	case on:
		v.mode = v.listeningMode()
		v.startLoopLocked()
	default:
		v.mode = ModeOff
		stopped = v.stopLoopLocked()
	}
	v.mu.Unlock()

	if stopped != nil {
		<-stopped.done
	}
	v.log.Info("Voice listening", "on", on)
}

func (v *Voice) SetWakeEnabled(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wakeEnabled = on
	switch {
	case v.capture != nil && v.capture.prior != ModeOff:
		v.capture.prior = v.listeningMode()
	case v.mode == ModeWake || v.mode == ModeOpen:
		v.mode = v.listeningMode()
	}
}

func (v *Voice) SetWakeWords(words []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wakeWords = append([]string(nil), words...)
}

func (v *Voice) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

func (v *Voice) Capturing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.capture != nil
}

func (v *Voice) Status() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := VoiceState{
		Mode:          v.mode.String(),
		Listening:     v.mode == ModeWake || v.mode == ModeOpen,
		WakeWordArmed: v.wakeEnabled,
		WakeWords:     append([]string(nil), v.wakeWords...),
		Capturing:     v.capture != nil,
	}
	if v.speaker != nil {
		st.SpeakingEnabled = v.speaker.Enabled()
		st.Speaking = v.speaker.Speaking()
	}
	return st
}

// Trigger starts a push-to-talk capture. Triggering again while capturing
// ends the capture early and submits what was heard.
func (v *Voice) Trigger(src assistant.Source) error {
	c, err := v.beginCapture(src, nil)
	if err != nil || c == nil {
		return err
	}
	if v.cfg.Cue != nil {
		v.cfg.Cue()
	}

	v.wg.Add(1)
	go v.runCapture(c)
	return nil
}

// CancelCapture abandons the capture in progress and returns to the previous
// mode. It reports whether there was one.
func (v *Voice) CancelCapture() bool {
	v.mu.Lock()
	c := v.capture
	if c != nil {
		c.cancelled = true
	}
	v.mu.Unlock()

	if c == nil {
		return false
	}
	c.end()
	v.log.Info("Capture cancelled")
	return true
}

// Ask captures one answer without submitting it, used for spoken
// confirmations.
func (v *Voice) Ask(ctx context.Context) (string, error) {
	answer := make(chan string, 1)
	c, err := v.beginCapture(assistant.SourceVoice, answer)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", errors.New("capture already in progress")
	}

	v.wg.Add(1)
	go v.runCapture(c)

	select {
	case text := <-answer:
		return text, nil
	case <-ctx.Done():
		c.end()
		return "", ctx.Err()
	}
}

// beginCapture switches to push-to-talk. It returns nil without error when a
// capture was already running; a plain trigger then ends it.
func (v *Voice) beginCapture(src assistant.Source, answer chan string) (*captureState, error) {
	if v.ctx.Err() != nil {
		return nil, ErrVoiceClosed
	}

	v.mu.Lock()
	if v.capture != nil {
		c := v.capture
		v.mu.Unlock()
		if answer == nil {
			c.end()
		}
		return nil, nil
	}

	c := &captureState{
		stop:   make(chan struct{}),
		prior:  v.mode,
		source: src,
		answer: answer,
	}
	v.capture = c
	v.mode = ModePTT
	stopped := v.stopLoopLocked()
	v.mu.Unlock()

	if stopped != nil {
		<-stopped.done
	}
	return c, nil
}

func (v *Voice) runCapture(c *captureState) {
	defer v.wg.Done()

	timer := time.AfterFunc(v.cfg.CaptureTimeout, c.end)
	text, err := v.src.Capture(v.ctx, c.stop)
	timer.Stop()

	v.mu.Lock()
	cancelled := c.cancelled
	v.capture = nil
	v.mode = c.prior
	if v.mode == ModeWake || v.mode == ModeOpen {
		v.startLoopLocked()
	}
	v.mu.Unlock()

	text = strings.TrimSpace(text)
	if c.answer != nil {
		if err != nil || cancelled {
			text = ""
		}
		c.answer <- text
		return
	}

	switch {
	case err != nil:
		if v.ctx.Err() == nil {
			v.log.Error("Failed to capture", "err", err)
		}
	case cancelled:
	case text == "":
		v.log.Info("Nothing heard")
	default:
		v.submit(c.source, text)
	}
}

func (v *Voice) startLoopLocked() {
	if v.loop != nil || v.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(v.ctx)
	l := &listenLoop{cancel: cancel, done: make(chan struct{})}
	v.loop = l

	go func() {
		defer close(l.done)
		v.listen(ctx)
	}()
}

func (v *Voice) stopLoopLocked() *listenLoop {
	l := v.loop
	v.loop = nil
	if l != nil {
		l.cancel()
	}
	return l
}

func (v *Voice) listen(ctx context.Context) {
	v.log.Debug("Listening loop started")
	defer v.log.Debug("Listening loop stopped")

	for ctx.Err() == nil {
		text, err := v.src.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.log.Warn("Failed to listen", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		v.heard(text)
	}
}

// heard routes one recognised phrase from continuous listening.
func (v *Voice) heard(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if v.speaker != nil && v.speaker.Speaking() {
		v.log.Debug("Ignoring phrase heard while speaking", "text", text)
		return
	}

	v.mu.Lock()
	mode, words := v.mode, v.wakeWords
	v.mu.Unlock()

	switch mode {
	case ModeWake:
		rest, ok := MatchWake(text, words)
		if !ok {
			if isStopPhrase(text) {
				v.stopFromLoop()
			}
			return
		}
		text = rest
	case ModeOpen:
	default:
		return
	}

	if isStopPhrase(text) {
		v.stopFromLoop()
		return
	}
	v.submit(assistant.SourceVoice, text)
}

// stopFromLoop turns listening off from inside the loop goroutine, which
// must not wait for itself.
func (v *Voice) stopFromLoop() {
	v.mu.Lock()
	if v.mode == ModeWake || v.mode == ModeOpen {
		v.mode = ModeOff
		v.stopLoopLocked()
	}
	v.mu.Unlock()

	v.log.Info("Voice listening", "on", false)
	u := assistant.NewUtterance(assistant.SourceVoice, "stop listening")
	v.display.Reply(u, assistant.Reply{UtteranceID: u.ID, Text: "Voice control off.", Kind: assistant.ReplyInfo})
}

// Inject submits already transcribed speech, e.g. from an audio file.
func (v *Voice) Inject(ctx context.Context, text string) (assistant.Reply, error) {
	u := assistant.NewUtterance(assistant.SourceVoice, text)
	if u.RawText == "" {
		return assistant.Reply{}, ErrEmpty
	}
	v.display.Utterance(u)
	return v.sub.Submit(ctx, v, u)
}

func (v *Voice) submit(src assistant.Source, text string) {
	u := assistant.NewUtterance(src, text)
	v.display.Utterance(u)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.sub.Submit(v.ctx, v, u); err != nil && v.ctx.Err() == nil {
			v.log.Error("Failed to submit voice utterance", "utterance", u.ID, "err", err)
		}
	}()
}

func (v *Voice) Acknowledge(u assistant.Utterance, text string) {
	v.display.Ack(u, text)
}

func (v *Voice) Display(u assistant.Utterance, r assistant.Reply) {
	v.display.Reply(u, r)
}

// Confirm asks out loud and listens for a yes. Without a speaker the question
// is only displayed.
func (v *Voice) Confirm(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool {
	question := "Are you sure? " + strings.TrimSpace(rec.Description) + " Say yes or no."
	v.display.Ack(u, question)

	if v.speaker != nil && v.speaker.Enabled() && v.speaker.Speak(question) {
		deadline := time.Now().Add(15 * time.Second)
		for v.speaker.Speaking() && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	answer, err := v.Ask(ctx)
	if err != nil {
		v.log.Warn("Failed to hear confirmation", "err", err)
		return false
	}
	v.log.Info("Confirmation answer", "utterance", u.ID, "answer", answer)
	return IsAffirmative(answer)
}

// Close stops listening and any capture and waits for in-flight submissions.
func (v *Voice) Close(ctx context.Context) error {
	v.mu.Lock()
	v.mode = ModeOff
	stopped := v.stopLoopLocked()
	if v.capture != nil {
		v.capture.cancelled = true
		v.capture.prior = ModeOff
		v.capture.end()
	}
	v.mu.Unlock()
	v.cancel()

	done := make(chan struct{})
	go func() {
		if stopped != nil {
			<-stopped.done
		}
		v.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
