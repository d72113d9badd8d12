package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"boi/internal/assistant"
)

var (
	ErrReserved  = errors.New("action name is reserved")
	ErrDuplicate = errors.New("action already registered")
	ErrFrozen    = errors.New("registry is frozen")
)

// Call is what a handler receives: validated parameters plus the context of
// the utterance that produced them.
type Call struct {
	Utterance   assistant.Utterance
	Params      map[string]any
	Steps       []assistant.Step
	Description string
}

// Handler implements one action. Expected failures are reported through
// HandlerResult.Success, never by panicking.
type Handler interface {
	Handle(ctx context.Context, call Call) assistant.HandlerResult
}

type HandlerFunc func(ctx context.Context, call Call) assistant.HandlerResult

func (f HandlerFunc) Handle(ctx context.Context, call Call) assistant.HandlerResult {
	return f(ctx, call)
}

// Flags gate how the dispatcher may invoke a handler.
type Flags struct {
	Destructive         bool
	RequireConfirmation bool
	MinConfidence       float64
	// Timeout bounds a single invocation when non-zero.
	Timeout time.Duration
}

type Entry struct {
	Name    string
	Handler Handler
	Schema  Schema
	Flags   Flags
}

// Registry maps action names to handlers. It is filled during startup and
// frozen before the dispatcher starts serving.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	frozen  bool
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a handler under name. Reserved names and duplicates are rejected.
func (r *Registry) Register(name string, h Handler, schema Schema, flags Flags) error {
	if name == "" {
		return errors.New("empty action name")
	}
	if h == nil {
		return fmt.Errorf("action %q: nil handler", name)
	}
	if name == assistant.ActionError || name == assistant.ActionChat {
		return fmt.Errorf("action %q: %w", name, ErrReserved)
	}
	if err := schema.check(); err != nil {
		return fmt.Errorf("action %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("action %q: %w", name, ErrFrozen)
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("action %q: %w", name, ErrDuplicate)
	}

	r.entries[name] = Entry{
		Name:    name,
		Handler: h,
		Schema:  schema,
		Flags:   flags,
	}
	r.order = append(r.order, name)

	return nil
}

// MustRegister panics on error. Meant for startup wiring of built-ins.
func (r *Registry) MustRegister(name string, h Handler, schema Schema, flags Flags) {
	if err := r.Register(name, h, schema, flags); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// KnownNames lists the names the language model may choose, in registration
// order, followed by the reserved "chat" action.
func (r *Registry) KnownNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order)+1)
	names = append(names, r.order...)
	names = append(names, assistant.ActionChat)
	return names
}

// Catalog returns the registered entries in registration order.
func (r *Registry) Catalog() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}
