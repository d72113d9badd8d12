// Package events is the fire-and-forget bus the dispatcher reports command
// progress on. Delivery runs on the bus's own worker; emitters never block.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"boi/internal/assistant"
)

type Topic string

const (
	CommandStarted   Topic = "command_started"
	CommandCompleted Topic = "command_completed"
	CommandFailed    Topic = "command_failed"
	ReplyRefined     Topic = "reply_refined"
)

type Envelope struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

type StartedPayload struct {
	UtteranceID string    `json:"utterance_id"`
	RawText     string    `json:"raw_text"`
	TS          time.Time `json:"ts"`
}

type CompletedPayload struct {
	UtteranceID string          `json:"utterance_id"`
	Action      string          `json:"action"`
	Reply       assistant.Reply `json:"reply"`
	TS          time.Time       `json:"ts"`
}

type FailedPayload struct {
	UtteranceID string              `json:"utterance_id"`
	Action      string              `json:"action"`
	Error       string              `json:"error"`
	Kind        assistant.ErrorKind `json:"kind"`
	TS          time.Time           `json:"ts"`
}

type RefinedPayload struct {
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	TS          time.Time `json:"ts"`
}

// UtteranceID extracts the utterance id from any of the bus payloads.
func (e Envelope) UtteranceID() string {
	switch p := e.Payload.(type) {
	case StartedPayload:
		return p.UtteranceID
	case CompletedPayload:
		return p.UtteranceID
	case FailedPayload:
		return p.UtteranceID
	case RefinedPayload:
		return p.UtteranceID
	}
	return ""
}

func (e Envelope) JSON() ([]byte, error) {
	return json.Marshal(e)
}

const (
	defaultQueue  = 256
	defaultSubBuf = 64
)

// Bus fans envelopes out to subscribers. A single worker preserves emission
// order for every subscriber.
type Bus struct {
	queue chan Envelope
	log   *slog.Logger

	subMu       sync.RWMutex
	subscribers map[string]chan Envelope

	closeOnce  sync.Once
	done       chan struct{}
	workerDone chan struct{}
	wg         sync.WaitGroup
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		queue:       make(chan Envelope, defaultQueue),
		log:         log,
		subscribers: make(map[string]chan Envelope),
		done:        make(chan struct{}),
		workerDone:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Emit queues an envelope for delivery. It never blocks; when the queue is
// full the envelope is dropped.
func (b *Bus) Emit(topic Topic, payload any) {
	env := Envelope{
		ID:        xid.New().String(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- env:
	default:
		b.log.Warn("Event dropped: bus queue full", "topic", topic)
	}
}

// Subscribe registers a channel subscriber. Envelopes are dropped for that
// subscriber when its buffer is full.
func (b *Bus) Subscribe(id string, bufSize int) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = defaultSubBuf
	}
	ch := make(chan Envelope, bufSize)

	b.subMu.Lock()
	if old, ok := b.subscribers[id]; ok {
		close(old)
	}
	b.subscribers[id] = ch
	b.subMu.Unlock()

	return ch
}

// SubscribeFunc runs fn for every envelope on a dedicated goroutine. A
// panicking fn is logged and does not stop delivery.
func (b *Bus) SubscribeFunc(id string, fn func(Envelope)) {
	ch := b.Subscribe(id, 0)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for env := range ch {
			b.deliver(id, fn, env)
		}
	}()
}

func (b *Bus) deliver(id string, fn func(Envelope), env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event subscriber panicked", "subscriber", id, "topic", env.Topic, "panic", r)
		}
	}()
	fn(env)
}

func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.subMu.Unlock()
}

func (b *Bus) run() {
	defer close(b.workerDone)
	for {
		select {
		case env := <-b.queue:
			b.fanOut(env)
		case <-b.done:
			for {
				select {
				case env := <-b.queue:
					b.fanOut(env)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) fanOut(env Envelope) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			b.log.Warn("Event dropped: subscriber buffer full", "subscriber", id, "topic", env.Topic)
		}
	}
}

// Close drains queued envelopes, closes every subscriber and waits for the
// function subscribers to finish.
func (b *Bus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		close(b.done)
	})

	stopped := make(chan struct{})
	go func() {
		<-b.workerDone
		b.subMu.Lock()
		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
		}
		b.subMu.Unlock()
		b.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
