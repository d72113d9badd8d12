// Package notify plays the activation earcon and raises desktop
// notifications for replies.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Earcon is the short sound played when push-to-talk capture starts.
type Earcon struct {
	path string
	log  *slog.Logger

	once    sync.Once
	rate    beep.SampleRate
	initErr error

	mu     sync.Mutex
	warned bool
}

func NewEarcon(path string, log *slog.Logger) *Earcon {
	if log == nil {
		log = slog.Default()
	}
	return &Earcon{path: path, log: log}
}

// Play decodes the earcon and blocks until it has played or ctx ends.
func (e *Earcon) Play(ctx context.Context) error {
	f, err := os.Open(e.path)
	if err != nil {
		return fmt.Errorf("open earcon: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode earcon: %w", err)
	}
	defer streamer.Close()

	e.once.Do(func() {
		e.rate = format.SampleRate
		e.initErr = speaker.Init(e.rate, e.rate.N(time.Second/10))
	})
	if e.initErr != nil {
		return fmt.Errorf("init speaker: %w", e.initErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != e.rate {
		s = beep.Resample(4, format.SampleRate, e.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Cue plays the earcon without blocking. Failures are logged once.
func (e *Earcon) Cue() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Play(ctx); err != nil {
			e.mu.Lock()
			first := !e.warned
			e.warned = true
			e.mu.Unlock()
			if first {
				e.log.Warn("Failed to play earcon", "path", e.path, "err", err)
			}
		}
	}()
}
