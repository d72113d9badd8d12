// Package gateway holds the input surfaces that turn typed text, speech and
// gestures into utterances for the dispatcher, and render what comes back.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"boi/internal/assistant"
	"boi/internal/dispatch"
)

// Submitter is the dispatcher as seen by a gateway.
type Submitter interface {
	Submit(ctx context.Context, origin dispatch.Origin, u assistant.Utterance) (assistant.Reply, error)
}

// Display renders the conversation. Implementations must be safe for
// concurrent use: busy replies are displayed from the submitting goroutine.
type Display interface {
	Utterance(u assistant.Utterance)
	Ack(u assistant.Utterance, text string)
	Reply(u assistant.Utterance, r assistant.Reply)
}

type Confirmer interface {
	Confirm(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool
}

type ConfirmFunc func(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool

func (f ConfirmFunc) Confirm(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool {
	return f(ctx, u, rec)
}

// Always answers every confirmation with answer.
func Always(answer bool) Confirmer {
	return ConfirmFunc(func(context.Context, assistant.Utterance, assistant.ActionRecord) bool {
		return answer
	})
}

// Speaker is the TTS sink as seen by the voice and gesture gateways.
type Speaker interface {
	Enabled() bool
	Speak(text string) bool
	Speaking() bool
}

// Displays fans a conversation out to several displays.
type Displays []Display

func (ds Displays) Utterance(u assistant.Utterance) {
	for _, d := range ds {
		d.Utterance(u)
	}
}

func (ds Displays) Ack(u assistant.Utterance, text string) {
	for _, d := range ds {
		d.Ack(u, text)
	}
}

func (ds Displays) Reply(u assistant.Utterance, r assistant.Reply) {
	for _, d := range ds {
		d.Reply(u, r)
	}
}

// LogDisplay writes the conversation to a logger.
type LogDisplay struct {
	Log *slog.Logger
}

func (l LogDisplay) Utterance(u assistant.Utterance) {
	l.Log.Info("You", "utterance", u.ID, "source", u.Source, "text", u.RawText)
}

func (l LogDisplay) Ack(u assistant.Utterance, text string) {
	l.Log.Debug("Ack", "utterance", u.ID, "text", text)
}

func (l LogDisplay) Reply(u assistant.Utterance, r assistant.Reply) {
	switch r.Kind {
	case assistant.ReplyErr:
		l.Log.Warn("Reply", "utterance", u.ID, "kind", r.Kind, "text", r.Text)
	default:
		l.Log.Info("Reply", "utterance", u.ID, "kind", r.Kind, "text", r.Text, "spoken", r.Spoken)
	}
}

// DisplayFunc adapts a reply callback; utterances and acks are ignored.
type DisplayFunc func(u assistant.Utterance, r assistant.Reply)

func (f DisplayFunc) Utterance(assistant.Utterance) {}

func (f DisplayFunc) Ack(assistant.Utterance, string) {}

func (f DisplayFunc) Reply(u assistant.Utterance, r assistant.Reply) { f(u, r) }

// IsAffirmative reports whether a spoken or typed answer means yes.
func IsAffirmative(answer string) bool {
	for _, w := range strings.Fields(strings.ToLower(answer)) {
		switch strings.TrimFunc(w, isPunct) {
		case "yes", "yeah", "yep", "sure", "confirm", "confirmed", "ok", "okay", "affirmative":
			return true
		case "no", "nope", "cancel", "stop", "don't", "dont":
			return false
		}
	}
	return false
}
