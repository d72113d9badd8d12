// Package memory keeps a bounded history of conversation turns and optionally
// mirrors it into a persistent store.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"boi/internal/assistant"
)

const DefaultSize = 50

// TagFailed marks turns whose command did not succeed.
const TagFailed = "failed"

// Store is the optional persistent tier.
type Store interface {
	Save(ctx context.Context, turn assistant.MemoryTurn) error
	Load(ctx context.Context, limit int) ([]assistant.MemoryTurn, error)
	Close() error
}

// Memory is a ring buffer of turns. Only the dispatcher worker appends; the
// lock exists for status readers on other goroutines.
type Memory struct {
	mu    sync.RWMutex
	turns []assistant.MemoryTurn
	next  int
	count int

	store Store
	log   *slog.Logger
}

func New(size int, store Store, log *slog.Logger) *Memory {
	if size < 1 {
		size = DefaultSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		turns: make([]assistant.MemoryTurn, size),
		store: store,
		log:   log,
	}
}

// Restore preloads the ring from the persistent tier.
func (m *Memory) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	turns, err := m.store.Load(ctx, len(m.turns))
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, t := range turns {
		m.push(t)
	}
	m.mu.Unlock()
	m.log.Debug("Restored memory", "turns", len(turns))
	return nil
}

func (m *Memory) Append(turn assistant.MemoryTurn) {
	if turn.TS.IsZero() {
		turn.TS = time.Now()
	}

	m.mu.Lock()
	m.push(turn)
	m.mu.Unlock()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.Save(ctx, turn); err != nil {
			m.log.Warn("Failed to persist memory turn", "utterance", turn.UtteranceID, "err", err)
		}
	}
}

func (m *Memory) push(turn assistant.MemoryTurn) {
	m.turns[m.next] = turn
	m.next = (m.next + 1) % len(m.turns)
	if m.count < len(m.turns) {
		m.count++
	}
}

// Recent returns up to k of the newest turns, oldest first.
func (m *Memory) Recent(k int) []assistant.MemoryTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k > m.count {
		k = m.count
	}
	if k <= 0 {
		return nil
	}

	out := make([]assistant.MemoryTurn, k)
	start := (m.next - k + len(m.turns)) % len(m.turns)
	for i := 0; i < k; i++ {
		out[i] = m.turns[(start+i)%len(m.turns)]
	}
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

type Stats struct {
	Turns     int            `json:"turns"`
	Errors    int            `json:"errors"`
	PerAction map[string]int `json:"per_action"`
}

// Stats summarises the turns currently held in the ring.
func (m *Memory) Stats() Stats {
	turns := m.Recent(len(m.turns))
	s := Stats{Turns: len(turns), PerAction: make(map[string]int)}
	for _, t := range turns {
		s.PerAction[t.ActionTaken]++
		if t.ActionTaken == assistant.ActionError || slices.Contains(t.Tags, TagFailed) {
			s.Errors++
		}
	}
	return s
}

func (m *Memory) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
