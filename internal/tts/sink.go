// Package tts speaks replies on a single background worker. Speech is
// transient: a request that arrives while something is being spoken is
// dropped, not queued.
package tts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Engine renders text to audio and blocks until playback ends.
type Engine interface {
	Speak(ctx context.Context, text string) error
}

// Ducker lowers other audio streams while the assistant talks.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

const DefaultSummarizeOver = 200

const longTail = " ...see the screen for details."

type Config struct {
	Enabled bool
	// SummarizeOver shortens replies longer than this many characters.
	// Zero uses DefaultSummarizeOver, negative disables it.
	SummarizeOver int
	Ducker        Ducker
}

type Sink struct {
	engine Engine
	ducker Ducker
	limit  int
	log    *slog.Logger

	enabled atomic.Bool
	busy    atomic.Bool

	jobs       chan string
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	workerDone chan struct{}

	errMu   sync.Mutex
	lastErr string
}

func New(engine Engine, cfg Config, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	limit := cfg.SummarizeOver
	if limit == 0 {
		limit = DefaultSummarizeOver
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		engine:     engine,
		ducker:     cfg.Ducker,
		limit:      limit,
		log:        log,
		jobs:       make(chan string, 1),
		ctx:        ctx,
		cancel:     cancel,
		workerDone: make(chan struct{}),
	}
	s.enabled.Store(cfg.Enabled && engine != nil)

	go s.run()
	return s
}

func (s *Sink) Enabled() bool {
	return s.enabled.Load()
}

func (s *Sink) SetEnabled(on bool) {
	s.enabled.Store(on && s.engine != nil)
}

// Speaking reports whether the worker is currently busy with a request.
func (s *Sink) Speaking() bool {
	return s.busy.Load()
}

// Speak hands text to the worker without blocking. It reports whether the
// text was accepted.
func (s *Sink) Speak(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || !s.Enabled() || s.ctx.Err() != nil {
		return false
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug("Speech dropped: already speaking")
		return false
	}

	select {
	case s.jobs <- text:
		return true
	default:
		s.busy.Store(false)
		return false
	}
}

func (s *Sink) run() {
	defer close(s.workerDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.jobs:
			s.say(text)
			s.busy.Store(false)
		}
	}
}

func (s *Sink) say(text string) {
	if s.limit > 0 {
		text = Summarize(text, s.limit)
	}

	if s.ducker != nil {
		if err := s.ducker.Duck(s.ctx); err != nil {
			s.log.Debug("Failed to duck other streams", "err", err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.ducker.Restore(rctx); err != nil {
				s.log.Debug("Failed to restore other streams", "err", err)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logOnce("panic", r)
		}
	}()

	if err := s.engine.Speak(s.ctx, text); err != nil && s.ctx.Err() == nil {
		s.logOnce(err.Error(), err)
	}
}

// logOnce reports an engine failure the first time its text is seen in a row.
func (s *Sink) logOnce(key string, cause any) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if key == s.lastErr {
		return
	}
	s.lastErr = key
	s.log.Warn("Failed to speak", "err", cause)
}

// Close stops the worker, interrupting speech in progress.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(s.cancel)
	select {
	case <-s.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summarize keeps the leading sentences of text that fit in limit characters
// and points the listener at the screen for the rest.
func Summarize(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := 0
	for i, r := range runes[:limit] {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			cut = i + 1
		}
	}

	if cut == 0 {
		cut = limit
		for cut > 0 && !unicode.IsSpace(runes[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
	}

	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + longTail
}
