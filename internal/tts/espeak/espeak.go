// Package espeak is the espeak-ng speech engine.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
boi_espeak_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0);
}

static int
boi_espeak_configure(const char *voice, int rate, int volume)
{
	if (voice && voice[0])
	{
		if (espeak_SetVoiceByName(voice) != EE_OK)
		{ return -1; }
	}

	espeak_SetParameter(espeakRATE, rate, 0);
	espeak_SetParameter(espeakVOLUME, volume, 0);

	return 0;
}

static int
boi_espeak_say(const char *text)
{
	if (!text)
	{ return -1; }

	espeak_ERROR rc = espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	if (rc != EE_OK)
	{ return (int)rc; }

	espeak_Synchronize();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

type Config struct {
	Voice string
	// Rate is in words per minute.
	Rate int
	// Volume is 0..1, mapped onto espeak's 0..200 amplitude with 1 as normal.
	Volume float64
}

// Engine serialises calls into the process-wide espeak-ng instance.
type Engine struct {
	mu sync.Mutex
}

var initOnce struct {
	sync.Once
	err error
}

func New(cfg Config) (*Engine, error) {
	initOnce.Do(func() {
		if rc := C.boi_espeak_init(); rc < 0 {
			initOnce.err = fmt.Errorf("espeak_Initialize failed: %d", int(rc))
		}
	})
	if initOnce.err != nil {
		return nil, initOnce.err
	}

	if cfg.Rate <= 0 {
		cfg.Rate = 165
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 0.95
	}

	cvoice := C.CString(cfg.Voice)
	defer C.free(unsafe.Pointer(cvoice))

	if rc := C.boi_espeak_configure(cvoice, C.int(cfg.Rate), C.int(cfg.Volume*100)); rc != 0 {
		return nil, fmt.Errorf("espeak: unknown voice %q", cfg.Voice)
	}

	return &Engine{}, nil
}

// Speak blocks until the text has been played. Cancelling ctx stops playback.
func (e *Engine) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			C.espeak_Cancel()
		case <-stop:
		}
	}()

	if rc := C.boi_espeak_say(ctext); rc != 0 {
		return fmt.Errorf("espeak_Synth failed: %d", int(rc))
	}

	return ctx.Err()
}
