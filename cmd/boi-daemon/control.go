package main

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"boi/internal/assistant"
	"boi/internal/dispatch"
	"boi/internal/gateway"
	"boi/internal/ipc"
	"boi/pkg/audioconv"
	"boi/pkg/stt"
)

// maxMemo caps transcribed voice memos at one minute.
const maxMemo = audioconv.TargetRate * 60

type textInput interface {
	Submit(ctx context.Context, text string, confirm gateway.Confirmer) (assistant.Reply, error)
}

type voiceInput interface {
	Trigger(src assistant.Source) error
	SetListening(on bool)
	SetWakeEnabled(on bool)
	SetWakeWords(words []string)
	Inject(ctx context.Context, text string) (assistant.Reply, error)
}

type gestureInput interface {
	Simulate(kind gateway.GestureKind, d time.Duration, now time.Time)
}

type speechToggle interface {
	SetEnabled(on bool)
}

type transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (stt.Result, error)
}

// controller answers boi-ctl. Optional inputs are nil when disabled.
type controller struct {
	text    textInput
	voice   voiceInput
	gesture gestureInput
	sink    speechToggle
	stt     transcriber
	status  func() any
	log     *log.Logger
}

func (c *controller) HandleControl(ctx context.Context, msg ipc.ControlMessage) ipc.ControlReply {
	switch msg.Cmd {
	case "say":
		reply, err := c.text.Submit(ctx, msg.Text, gateway.Always(msg.Confirm))
		return replyOf(reply, err)

	case "trigger":
		if c.voice == nil {
			return ipc.Errorf("voice is disabled")
		}
		if err := c.voice.Trigger(assistant.SourceVoice); err != nil {
			return ipc.Errorf("%v", err)
		}
		return ipc.ControlReply{OK: true, Text: "Listening...", Kind: string(assistant.ReplyInfo)}

	case "voice":
		return c.voiceMode(msg.Arg)

	case "wake-word":
		if c.voice == nil {
			return ipc.Errorf("voice is disabled")
		}
		words := splitWords(msg.Arg)
		if len(words) == 0 {
			return ipc.Errorf("no wake word given")
		}
		c.voice.SetWakeWords(words)
		return info("Wake words: " + strings.Join(words, ", "))

	case "gesture":
		return c.simulateGesture(msg.Arg, msg.Text)

	case "transcribe":
		return c.transcribe(ctx, msg.Arg)

	case "tts":
		switch msg.Arg {
		case "on", "off":
			c.sink.SetEnabled(msg.Arg == "on")
			return info("Speech " + msg.Arg + ".")
		}
		return ipc.Errorf("tts wants on or off, got %q", msg.Arg)

	case "status":
		b, err := json.Marshal(c.status())
		if err != nil {
			return ipc.Errorf("%v", err)
		}
		return info(string(b))
	}

	c.log.Warn("Unknown command", "cmd", msg.Cmd)
	return ipc.Errorf("unknown command %q", msg.Cmd)
}

func (c *controller) voiceMode(arg string) ipc.ControlReply {
	if c.voice == nil {
		return ipc.Errorf("voice is disabled")
	}
	switch arg {
	case "off":
		c.voice.SetListening(false)
		return info("Voice control off.")
	case "wake", "on":
		c.voice.SetWakeEnabled(true)
		c.voice.SetListening(true)
		return info("Listening for the wake word.")
	case "open":
		c.voice.SetWakeEnabled(false)
		c.voice.SetListening(true)
		return info("Listening.")
	case "wake-on", "wake-off":
		c.voice.SetWakeEnabled(arg == "wake-on")
		return info("Wake word " + strings.TrimPrefix(arg, "wake-") + ".")
	case "status":
		b, err := json.Marshal(c.status())
		if err != nil {
			return ipc.Errorf("%v", err)
		}
		return info(string(b))
	}
	return ipc.Errorf("voice wants off, wake, open, wake-on, wake-off or status, got %q", arg)
}

func (c *controller) simulateGesture(kind, hold string) ipc.ControlReply {
	if c.gesture == nil {
		return ipc.Errorf("gesture gateway is disabled")
	}
	k, err := gateway.ParseGesture(kind)
	if err != nil {
		return ipc.Errorf("%v", err)
	}
	d := 1500 * time.Millisecond
	if hold != "" {
		if d, err = time.ParseDuration(hold); err != nil {
			return ipc.Errorf("bad hold duration %q", hold)
		}
	}
	c.gesture.Simulate(k, d, time.Now())
	return info("Gesture " + k.String() + " held for " + d.String() + ".")
}

// transcribe submits a recorded voice memo as if it had been spoken.
func (c *controller) transcribe(ctx context.Context, path string) ipc.ControlReply {
	if c.voice == nil || c.stt == nil {
		return ipc.Errorf("voice is disabled")
	}
	pcm, err := audioconv.DecodeFile(path, audioconv.Options{MaxSamples: maxMemo})
	if err != nil {
		return ipc.Errorf("%v", err)
	}
	res, err := c.stt.Transcribe(ctx, pcm)
	if err != nil {
		c.log.Error("Failed to transcribe", "path", path, "err", err)
		return ipc.Errorf("transcription failed: %v", err)
	}
	c.log.Info("Transcribed", "path", path, "text", res.Text)
	if strings.TrimSpace(res.Text) == "" {
		return ipc.Errorf("no speech in %s", path)
	}
	reply, err := c.voice.Inject(ctx, res.Text)
	return replyOf(reply, err)
}

func replyOf(r assistant.Reply, err error) ipc.ControlReply {
	switch {
	case errors.Is(err, gateway.ErrEmpty):
		return ipc.Errorf("nothing to say")
	case errors.Is(err, dispatch.ErrClosed):
		return ipc.Errorf("assistant is shutting down")
	case err != nil:
		return ipc.Errorf("%v", err)
	}
	return ipc.ControlReply{OK: r.Kind != assistant.ReplyErr, Text: r.Text, Kind: string(r.Kind)}
}

func info(text string) ipc.ControlReply {
	return ipc.ControlReply{OK: true, Text: text, Kind: string(assistant.ReplyInfo)}
}

func splitWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
