package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"boi/pkg/stt"
)

// minSpeech is the shortest recording worth transcribing.
const minSpeech = SampleRate / 4

// Mic records speech. Recorder is the real one.
type Mic interface {
	Phrase(ctx context.Context) ([]float32, error)
	Until(ctx context.Context, stop <-chan struct{}, maxDur time.Duration) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (stt.Result, error)
}

// Listener turns microphone audio into text for the voice gateway.
type Listener struct {
	mic    Mic
	stt    Transcriber
	maxDur time.Duration
	log    *slog.Logger
}

func NewListener(mic Mic, tr Transcriber, maxCapture time.Duration, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	// the voice gateway ends captures itself; this is only a backstop
	if maxCapture <= 0 {
		maxCapture = 30 * time.Second
	}
	return &Listener{mic: mic, stt: tr, maxDur: maxCapture, log: log}
}

func (l *Listener) Listen(ctx context.Context) (string, error) {
	pcm, err := l.mic.Phrase(ctx)
	if err != nil {
		return "", err
	}
	return l.transcribe(ctx, pcm)
}

func (l *Listener) Capture(ctx context.Context, stop <-chan struct{}) (string, error) {
	pcm, err := l.mic.Until(ctx, stop, l.maxDur)
	if errors.Is(err, ErrNoAudio) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// the capture ended because ctx did; the recording is still wanted
	return l.transcribe(context.WithoutCancel(ctx), pcm)
}

func (l *Listener) transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) < minSpeech {
		return "", nil
	}
	start := time.Now()
	res, err := l.stt.Transcribe(ctx, pcm)
	if err != nil {
		return "", err
	}
	l.log.Debug("Transcribed", "text", res.Text, "lang", res.Language, "took", time.Since(start))
	return res.Text, nil
}
