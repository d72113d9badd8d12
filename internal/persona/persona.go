// Package persona turns raw handler output into replies in the assistant's
// voice. Every hot-path method is template based and deterministic for a given
// configuration and clock.
package persona

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Enabled  bool
	Name     string
	UserName string
	// Brief drops the encouragement tail on success replies.
	Brief bool
}

var (
	successPhrases = []string{
		"Excellent! ", "Perfect! ", "Wonderful! ", "Nice! ",
		"Awesome! ", "There we go! ", "Nailed it! ",
	}
	minorPhrases = []string{
		"Done! ", "Got it! ", "All set! ", "Complete! ", "Ready! ",
	}
	errorPhrases = []string{
		"Hmm, ran into a small hiccup. ",
		"Oops, encountered an issue. ",
		"Ah, something went sideways. ",
		"Hit a snag there. ",
	}
	repeatedErrorPhrases = []string{
		"I apologize, still having trouble with that. ",
		"Sorry, this one's giving me a hard time. ",
		"My apologies, I'm struggling with this. ",
	}
	encouragements = []string{
		"Anything else I can help with?",
		"Happy to assist!",
		"What's next on your list?",
	}
	ackPhrases = []string{
		"On it: %q.",
		"Working on %q.",
		"Got it, %q coming up.",
	}
)

// shortReply is the length under which a success counts as a minor one.
const shortReply = 40

// Persona wraps replies. Only the greeting cache is mutable state.
type Persona struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	greetings map[string]string
}

func New(cfg Config) *Persona {
	if cfg.Name == "" {
		cfg.Name = "BOI"
	}
	return &Persona{
		cfg:       cfg,
		now:       time.Now,
		greetings: make(map[string]string),
	}
}

// WithClock replaces the clock used for time-of-day greetings.
func (p *Persona) WithClock(now func() time.Time) *Persona {
	p.now = now
	return p
}

func (p *Persona) Enabled() bool {
	return p.cfg.Enabled
}

func (p *Persona) Name() string {
	return p.cfg.Name
}

func (p *Persona) WrapOK(raw string) string {
	if !p.cfg.Enabled {
		return raw
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return strings.TrimSpace(pick(minorPhrases, "empty"))
	}

	var b strings.Builder
	if len(raw) < shortReply {
		b.WriteString(pick(minorPhrases, raw))
	} else {
		b.WriteString(pick(successPhrases, raw))
	}
	b.WriteString(raw)
	if !p.cfg.Brief {
		b.WriteString(" ")
		b.WriteString(pick(encouragements, raw))
	}
	return b.String()
}

// WrapErr wraps a failure reported once.
func (p *Persona) WrapErr(raw string) string {
	return p.WrapErrStreak(raw, 1)
}

// WrapErrStreak wraps a failure; streak is the number of consecutive failed
// commands including this one and escalates the apology from the second on.
func (p *Persona) WrapErrStreak(raw string, streak int) string {
	if !p.cfg.Enabled {
		return raw
	}
	raw = strings.TrimSpace(raw)
	phrases := errorPhrases
	if streak > 1 {
		phrases = repeatedErrorPhrases
	}
	return pick(phrases, raw) + raw
}

func (p *Persona) WrapInfo(raw string) string {
	if !p.cfg.Enabled {
		return raw
	}
	return strings.TrimSpace(raw)
}

// Greet returns the greeting for the current part of the day. Greetings are
// cached per day part.
func (p *Persona) Greet() string {
	part := dayPart(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.greetings[part]; ok {
		return g
	}

	g := fmt.Sprintf("Good %s", part)
	if p.cfg.UserName != "" {
		g += ", " + p.cfg.UserName
	}
	g += fmt.Sprintf("! %s here, ready when you are.", p.cfg.Name)
	p.greetings[part] = g
	return g
}

// Acknowledge is the immediate reply sent before the command is parsed.
func (p *Persona) Acknowledge(text string) string {
	text = strings.TrimSpace(text)
	if !p.cfg.Enabled {
		return "Received."
	}
	if r := []rune(text); len(r) > 60 {
		text = string(r[:57]) + "..."
	}
	return fmt.Sprintf(pick(ackPhrases, text), text)
}

func dayPart(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

func pick(set []string, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return set[h.Sum32()%uint32(len(set))]
}

// Rewriter produces a refined reply text off the hot path.
type Rewriter interface {
	Rewrite(ctx context.Context, persona, text string) (string, error)
}
