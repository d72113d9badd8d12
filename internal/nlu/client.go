// Package nlu turns utterances into action records with a remote language
// model, and answers free-form chat.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"boi/internal/assistant"
	"boi/internal/registry"
)

var (
	// ErrUnavailable covers a missing, unreachable, slow or rate-limited provider.
	ErrUnavailable = errors.New("AI unavailable")
	// ErrInvalid is returned when the model answered with something that is not
	// a valid action record.
	ErrInvalid = errors.New("AI returned an invalid response")
)

type Config struct {
	Temperature     float64
	ChatTemperature float64
	Timeout         time.Duration
	MinInterval     time.Duration
	// Name is the assistant name used in chat and rewrite prompts.
	Name string
	// BreakerFailures is how many consecutive provider failures open the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ChatTemperature == 0 {
		c.ChatTemperature = 0.7
	}
	if c.Name == "" {
		c.Name = "BOI"
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Client wraps a Provider with the call discipline the dispatcher relies on:
// a bounded call time, one retry on transient errors, a minimum interval
// between calls and a circuit breaker.
type Client struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	log      *slog.Logger
}

// fixedTemperature is implemented by providers whose model rejects a
// temperature setting.
type fixedTemperature interface {
	FixedTemperature() bool
}

// New returns a client. A nil provider is allowed: every call then fails with
// ErrUnavailable.
func New(p Provider, cfg Config, log *slog.Logger) *Client {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	if ft, ok := p.(fixedTemperature); ok && ft.FixedTemperature() {
		log.Warn("Model ignores llm.temperature, using its default sampling", "provider", p.Name(), "temperature", cfg.Temperature)
	}

	c := &Client{
		provider: p,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("LLM circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return c
}

func (c *Client) Available() bool {
	return c.provider != nil
}

func (c *Client) ProviderName() string {
	if c.provider == nil {
		return "none"
	}
	return c.provider.Name()
}

// Parse asks the model for an action record. On failure it returns an "error"
// record describing the reason together with an error wrapping ErrUnavailable
// or ErrInvalid.
func (c *Client) Parse(ctx context.Context, text string, recent []assistant.MemoryTurn, catalog []registry.Entry) (assistant.ActionRecord, error) {
	if c.provider == nil {
		err := fmt.Errorf("%w: no API key configured for the language model", ErrUnavailable)
		return assistant.ErrorRecord(err.Error()), err
	}
	if !c.limiter.Allow() {
		err := fmt.Errorf("%w: rate limited, try again in a moment", ErrUnavailable)
		return assistant.ErrorRecord(err.Error()), err
	}

	raw, err := c.complete(ctx, Request{
		System:      buildParsePrompt(catalog),
		History:     history(recent),
		Prompt:      text,
		Temperature: c.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		return assistant.ErrorRecord(err.Error()), err
	}

	c.log.Debug("Parsed", "data", raw)

	rec, err := decodeRecord(raw)
	if err != nil {
		c.log.Warn("Rejected model output", "err", err, "raw", raw)
		return assistant.ErrorRecord("I could not make sense of that request"), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return rec, nil
}

// Chat returns a free-text answer. Unlike Parse it waits for the rate limiter.
func (c *Client) Chat(ctx context.Context, text string, recent []assistant.MemoryTurn) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("%w: no API key configured for the language model", ErrUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out, err := c.complete(ctx, Request{
		System:      fmt.Sprintf(chatPrompt, c.cfg.Name),
		History:     history(recent),
		Prompt:      text,
		Temperature: c.cfg.ChatTemperature,
	})
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty reply", ErrInvalid)
	}
	return out, nil
}

// Rewrite rephrases a reply in the persona's voice.
func (c *Client) Rewrite(ctx context.Context, persona, text string) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("%w: no API key configured for the language model", ErrUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out, err := c.complete(ctx, Request{
		System:      fmt.Sprintf(rewritePrompt, persona),
		Prompt:      text,
		Temperature: c.cfg.ChatTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		text, err := c.provider.Complete(ctx, req)
		if isTransient(err) && ctx.Err() == nil {
			c.log.Debug("Retrying LLM call", "provider", c.provider.Name(), "err", err)
			text, err = c.provider.Complete(ctx, req)
		}
		return text, err
	})

	switch {
	case err == nil:
		return out.(string), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", fmt.Errorf("%w: too many recent failures", ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		c.log.Warn("LLM call timed out", "provider", c.provider.Name(), "timeout", c.cfg.Timeout)
		return "", fmt.Errorf("%w: no answer within %s", ErrUnavailable, c.cfg.Timeout)
	default:
		c.log.Error("LLM call failed", "provider", c.provider.Name(), "err", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// decodeRecord accepts exactly one JSON object shaped like an ActionRecord.
// A single surrounding markdown code fence is tolerated.
func decodeRecord(raw string) (assistant.ActionRecord, error) {
	raw = stripFence(strings.TrimSpace(raw))
	if raw == "" {
		return assistant.ActionRecord{}, errors.New("empty response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var rec assistant.ActionRecord
	if err := dec.Decode(&rec); err != nil {
		return assistant.ActionRecord{}, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return assistant.ActionRecord{}, errors.New("trailing data after JSON object")
	}

	if rec.Parameters == nil {
		rec.Parameters = map[string]any{}
	}
	if err := rec.Check(); err != nil {
		return assistant.ActionRecord{}, err
	}
	return rec, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}
