// Package audio captures speech from the default microphone and ducks other
// playback streams while the assistant talks.
package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const SampleRate = 16000

var ErrNoAudio = errors.New("no audio recorded")

type RecorderConfig struct {
	// SilenceRMS is the frame energy under which a frame counts as silence.
	SilenceRMS float64
	// Silence ends a phrase once speech has started.
	Silence time.Duration
	// MaxPhrase caps one phrase.
	MaxPhrase time.Duration
}

// Recorder reads 16 kHz mono float32 PCM from the default input device.
// Init must be called once before use and Close once after.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = 0.015
	}
	if cfg.Silence <= 0 {
		cfg.Silence = 600 * time.Millisecond
	}
	if cfg.MaxPhrase <= 0 {
		cfg.MaxPhrase = 10 * time.Second
	}
	return &Recorder{cfg: cfg}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Phrase waits for speech and records until it is followed by silence or
// MaxPhrase elapses. It returns ctx.Err() when ctx ends before anyone spoke.
func (r *Recorder) Phrase(ctx context.Context) ([]float32, error) {
	const frameSize = SampleRate / 50 // 20ms

	buf := make([]float32, frameSize)
	stream, err := openInput(buf)
	if err != nil {
		return nil, err
	}
	defer closeInput(stream)

	det := newPhraseDetector(r.cfg, frameSize)
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			return nil, err
		}
		if det.feed(buf) {
			break
		}
	}
	if ctx.Err() != nil && !det.speaking {
		return nil, ctx.Err()
	}
	return det.out, nil
}

// Until records until stop is closed or ctx ends, for at most maxDur.
func (r *Recorder) Until(ctx context.Context, stop <-chan struct{}, maxDur time.Duration) ([]float32, error) {
	const frameSize = 1024

	if maxDur <= 0 {
		maxDur = 15 * time.Second
	}

	buf := make([]float32, frameSize)
	stream, err := openInput(buf)
	if err != nil {
		return nil, err
	}
	defer closeInput(stream)

	deadline := time.Now().Add(maxDur)
	out := make([]float32, 0, int(SampleRate*maxDur.Seconds()))

loop:
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			break loop
		case <-ctx.Done():
			break loop
		default:
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}

	if len(out) == 0 {
		return nil, ErrNoAudio
	}
	return out, nil
}

func openInput(buf []float32) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

func closeInput(s *portaudio.Stream) {
	_ = s.Stop()
	_ = s.Close()
}

// phraseDetector decides, frame by frame, where a spoken phrase ends.
type phraseDetector struct {
	threshold     float64
	silenceFrames int
	maxFrames     int

	frames   int
	quiet    int
	speaking bool
	out      []float32
}

func newPhraseDetector(cfg RecorderConfig, frameSize int) *phraseDetector {
	frameDur := time.Duration(frameSize) * time.Second / SampleRate
	return &phraseDetector{
		threshold:     cfg.SilenceRMS,
		silenceFrames: int(cfg.Silence / frameDur),
		maxFrames:     int(cfg.MaxPhrase / frameDur),
	}
}

// feed consumes one frame and reports whether the phrase is complete.
// Leading silence is discarded and does not count towards MaxPhrase.
func (d *phraseDetector) feed(frame []float32) bool {
	loud := frameRMS(frame) > d.threshold
	if !d.speaking && !loud {
		return false
	}

	d.speaking = true
	d.frames++
	d.out = append(d.out, frame...)
	if loud {
		d.quiet = 0
	} else {
		d.quiet++
	}
	return d.quiet >= d.silenceFrames || d.frames >= d.maxFrames
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
