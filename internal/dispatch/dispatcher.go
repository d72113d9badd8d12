// Package dispatch drives one utterance at a time from acknowledgement through
// parsing and execution to a delivered reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"boi/internal/assistant"
	"boi/internal/events"
	"boi/internal/memory"
	"boi/internal/nlu"
	"boi/internal/persona"
	"boi/internal/registry"
)

var ErrClosed = errors.New("dispatcher is closed")

// recentTurns is how much conversation the parser sees.
const recentTurns = 3

const (
	busyText     = "Still working on your last request, please wait."
	declinedText = "user declined"
)

// Parser is the language model front-end.
type Parser interface {
	Parse(ctx context.Context, text string, recent []assistant.MemoryTurn, catalog []registry.Entry) (assistant.ActionRecord, error)
	Chat(ctx context.Context, text string, recent []assistant.MemoryTurn) (string, error)
}

type Memory interface {
	Recent(k int) []assistant.MemoryTurn
	Append(turn assistant.MemoryTurn)
}

type Speaker interface {
	Enabled() bool
	Speak(text string) bool
}

type Emitter interface {
	Emit(topic events.Topic, payload any)
}

// Origin is the gateway an utterance came from. The dispatcher acknowledges
// through it, asks it for confirmation and hands it the final reply.
type Origin interface {
	Acknowledge(u assistant.Utterance, text string)
	Confirm(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool
	Display(u assistant.Utterance, reply assistant.Reply)
}

type Config struct {
	ConfirmDestructive bool
	// ExecLogSize is the length of the execution ring. Zero means 100.
	ExecLogSize int
	// RewriteTimeout bounds the async persona rewrite.
	RewriteTimeout time.Duration
}

type Deps struct {
	Registry *registry.Registry
	Parser   Parser
	Memory   Memory
	Persona  *persona.Persona
	Speaker  Speaker
	Bus      Emitter
	// Rewriter is optional; when set, successful replies are refined in the
	// background and published on events.ReplyRefined.
	Rewriter persona.Rewriter
	Log      *slog.Logger
}

type job struct {
	origin Origin
	u      assistant.Utterance
	done   chan assistant.Reply
}

// outcome is the result of the parse and execute stages.
type outcome struct {
	action string
	result assistant.HandlerResult
	kind   assistant.ErrorKind
}

type Dispatcher struct {
	reg      *registry.Registry
	parser   Parser
	memory   Memory
	persona  *persona.Persona
	speaker  Speaker
	bus      Emitter
	rewriter persona.Rewriter
	cfg      Config
	log      *slog.Logger

	state    atomic.Int32
	occupied atomic.Bool
	jobs     chan job

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	workerDone chan struct{}
	refiners   sync.WaitGroup

	// errStreak is only touched by the worker.
	errStreak int
	// straggler is closed when a timed-out handler finally returns. The
	// dispatcher stays occupied until then. Worker only.
	straggler chan struct{}

	logMu sync.Mutex
	execs *execLog
}

func New(deps Deps, cfg Config) (*Dispatcher, error) {
	if deps.Registry == nil || deps.Parser == nil || deps.Memory == nil {
		return nil, errors.New("dispatch: registry, parser and memory are required")
	}
	if deps.Persona == nil {
		deps.Persona = persona.New(persona.Config{})
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = 20 * time.Second
	}

	deps.Registry.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reg:        deps.Registry,
		parser:     deps.Parser,
		memory:     deps.Memory,
		persona:    deps.Persona,
		speaker:    deps.Speaker,
		bus:        deps.Bus,
		rewriter:   deps.Rewriter,
		cfg:        cfg,
		log:        deps.Log,
		jobs:       make(chan job, 1),
		ctx:        ctx,
		cancel:     cancel,
		workerDone: make(chan struct{}),
		execs:      newExecLog(cfg.ExecLogSize),
	}

	go d.run()
	return d, nil
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Busy reports whether an utterance currently occupies the dispatcher.
func (d *Dispatcher) Busy() bool {
	return d.occupied.Load()
}

// Recent returns the latest execution records, oldest first.
func (d *Dispatcher) Recent() []ExecutionRecord {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	return d.execs.recent()
}

// Submit runs u and returns its reply. If another utterance is in flight the
// call returns a Busy reply at once without touching the bus or memory. ctx
// bounds only the wait; a command that started keeps running.
func (d *Dispatcher) Submit(ctx context.Context, origin Origin, u assistant.Utterance) (assistant.Reply, error) {
	if d.ctx.Err() != nil {
		return assistant.Reply{}, ErrClosed
	}

	if !d.occupied.CompareAndSwap(false, true) {
		d.log.Info("Rejected utterance: busy", "utterance", u.ID, "state", d.State())
		reply := assistant.Reply{
			UtteranceID: u.ID,
			Text:        busyText,
			Kind:        assistant.KindBusy.ReplyKind(),
		}
		d.display(origin, u, reply)
		return reply, nil
	}

	j := job{origin: origin, u: u, done: make(chan assistant.Reply, 1)}
	select {
	case d.jobs <- j:
	case <-d.ctx.Done():
		d.occupied.Store(false)
		return assistant.Reply{}, ErrClosed
	}

	select {
	case reply := <-j.done:
		return reply, nil
	case <-d.workerDone:
		select {
		case reply := <-j.done:
			return reply, nil
		default:
			return assistant.Reply{}, ErrClosed
		}
	case <-ctx.Done():
		return assistant.Reply{}, ctx.Err()
	}
}

// Close cancels the running command, if any, and stops the worker.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if d.occupied.Load() {
			d.setState(StateCancelling)
		}
		d.cancel()
	})

	stopped := make(chan struct{})
	go func() {
		<-d.workerDone
		d.refiners.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.workerDone)
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-d.jobs:
			j.done <- d.process(j)
		}
	}
}

func (d *Dispatcher) setState(s State) {
	if State(d.state.Load()) == StateCancelling && s != StateIdle {
		return
	}
	d.state.Store(int32(s))
	d.log.Debug("Dispatcher state", "state", s)
}

func (d *Dispatcher) process(j job) assistant.Reply {
	u := j.u
	started := time.Now()

	d.setState(StateAcknowledging)
	d.acknowledge(j.origin, u)
	d.emit(events.CommandStarted, events.StartedPayload{
		UtteranceID: u.ID,
		RawText:     u.RawText,
		TS:          started,
	})

	out := d.execute(j)

	d.setState(StatePostProcessing)
	reply := d.finish(j, out, started)

	d.setState(StateIdle)
	return reply
}

func (d *Dispatcher) execute(j job) outcome {
	u := j.u

	d.setState(StateParsing)
	recent := d.memory.Recent(recentTurns)
	rec, err := d.parser.Parse(d.ctx, u.RawText, recent, d.reg.Catalog())
	if err != nil {
		kind := assistant.KindParseInvalid
		if errors.Is(err, nlu.ErrUnavailable) {
			kind = assistant.KindParseUnavailable
		}
		d.log.Warn("Failed to parse utterance", "utterance", u.ID, "err", err)
		msg := rec.Description
		if msg == "" || rec.Action != assistant.ActionError {
			msg = err.Error()
		}
		return outcome{action: assistant.ActionError, result: assistant.Fail(msg), kind: kind}
	}

	d.log.Info("Parsed utterance", "utterance", u.ID, "action", rec.Action, "confidence", rec.ConfidenceOr(-1))

	if rec.Action == assistant.ActionError {
		return outcome{action: assistant.ActionError, result: assistant.Fail(rec.Description), kind: assistant.KindParseInvalid}
	}

	d.setState(StateExecuting)

	if rec.Action == assistant.ActionChat {
		return d.chat(u, recent)
	}

	entry, ok := d.reg.Lookup(rec.Action)
	if !ok {
		return outcome{
			action: rec.Action,
			result: assistant.Fail(fmt.Sprintf("Unknown action %q", rec.Action)),
			kind:   assistant.KindUnknownAction,
		}
	}

	params, err := entry.Schema.Validate(rec.Parameters)
	if err != nil {
		return outcome{action: rec.Action, result: assistant.Fail(err.Error()), kind: assistant.KindBadParameters}
	}

	if d.needsConfirmation(entry, rec) && !d.confirm(j, rec) {
		d.log.Info("Action declined", "utterance", u.ID, "action", rec.Action)
		return outcome{action: rec.Action, result: assistant.Fail(declinedText), kind: assistant.KindConfirmationDeclined}
	}

	res, kind := d.invoke(entry, registry.Call{
		Utterance:   u,
		Params:      params,
		Steps:       rec.Steps,
		Description: rec.Description,
	})
	return outcome{action: rec.Action, result: res, kind: kind}
}

func (d *Dispatcher) chat(u assistant.Utterance, recent []assistant.MemoryTurn) outcome {
	text, err := d.parser.Chat(d.ctx, u.RawText, recent)
	if err != nil {
		kind := assistant.KindParseInvalid
		if errors.Is(err, nlu.ErrUnavailable) {
			kind = assistant.KindParseUnavailable
		}
		d.log.Warn("Failed to chat", "utterance", u.ID, "err", err)
		return outcome{action: assistant.ActionChat, result: assistant.Fail(err.Error()), kind: kind}
	}
	return outcome{action: assistant.ActionChat, result: assistant.OK(text)}
}

func (d *Dispatcher) needsConfirmation(e registry.Entry, rec assistant.ActionRecord) bool {
	f := e.Flags
	if f.Destructive && d.cfg.ConfirmDestructive {
		return true
	}
	if f.RequireConfirmation {
		return true
	}
	return f.MinConfidence > 0 && rec.ConfidenceOr(0) < f.MinConfidence
}

func (d *Dispatcher) confirm(j job, rec assistant.ActionRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Confirmation hook panicked", "utterance", j.u.ID, "panic", r)
			ok = false
		}
	}()
	return j.origin.Confirm(d.ctx, j.u, rec)
}

// invoke runs the handler on its own goroutine so a panic, a per-action
// timeout or shutdown can be turned into a result.
func (d *Dispatcher) invoke(e registry.Entry, call registry.Call) (assistant.HandlerResult, assistant.ErrorKind) {
	ctx := d.ctx
	if e.Flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Flags.Timeout)
		defer cancel()
	}

	type result struct {
		res  assistant.HandlerResult
		kind assistant.ErrorKind
	}
	ch := make(chan result, 1)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("Handler crashed", "action", e.Name, "panic", r, "stack", string(debug.Stack()))
				ch <- result{assistant.Fail(fmt.Sprintf("Error: %v", r)), assistant.KindHandlerCrashed}
			}
		}()
		res := e.Handler.Handle(ctx, call)
		if !res.Success {
			ch <- result{res, assistant.KindHandlerFailed}
			return
		}
		ch <- result{res, assistant.KindNone}
	}()

	select {
	case r := <-ch:
		return r.res, r.kind
	case <-ctx.Done():
		d.straggler = exited
		if d.ctx.Err() != nil {
			d.log.Warn("Handler cancelled by shutdown", "action", e.Name)
			return assistant.Fail("cancelled"), assistant.KindHandlerFailed
		}
		d.log.Warn("Handler timed out", "action", e.Name, "timeout", e.Flags.Timeout)
		return assistant.Fail("timed out"), assistant.KindHandlerFailed
	}
}

func (d *Dispatcher) finish(j job, out outcome, started time.Time) assistant.Reply {
	u := j.u

	reply := assistant.Reply{
		UtteranceID: u.ID,
		Text:        d.style(out),
		Kind:        out.kind.ReplyKind(),
	}

	if d.speaker != nil && d.speaker.Enabled() {
		reply.Spoken = d.speaker.Speak(reply.Text)
	}

	now := time.Now()
	if out.kind == assistant.KindNone {
		d.emit(events.CommandCompleted, events.CompletedPayload{
			UtteranceID: u.ID,
			Action:      out.action,
			Reply:       reply,
			TS:          now,
		})
	} else {
		d.emit(events.CommandFailed, events.FailedPayload{
			UtteranceID: u.ID,
			Action:      out.action,
			Error:       out.result.Message,
			Kind:        out.kind,
			TS:          now,
		})
	}

	turn := assistant.MemoryTurn{
		UtteranceID: u.ID,
		UserText:    u.RawText,
		ReplyText:   reply.Text,
		ActionTaken: out.action,
	}
	if out.kind != assistant.KindNone {
		turn.Tags = []string{memory.TagFailed, string(out.kind)}
	}
	d.memory.Append(turn)

	d.logMu.Lock()
	d.execs.add(ExecutionRecord{
		UtteranceID: u.ID,
		Action:      out.action,
		Kind:        string(out.kind),
		Started:     started,
		Finished:    now,
		Duration:    now.Sub(started),
	})
	d.logMu.Unlock()

	d.log.Info("Command finished", "utterance", u.ID, "action", out.action, "kind", out.kind, "took", now.Sub(started))

	d.display(j.origin, u, reply)
	d.release(out.action)

	if d.rewriter != nil && out.kind == assistant.KindNone && d.ctx.Err() == nil {
		d.refiners.Add(1)
		go d.refine(u.ID, out.result.Message)
	}

	return reply
}

// release frees the dispatcher for the next utterance, or hands that over to
// a timed-out handler that is still running.
func (d *Dispatcher) release(action string) {
	s := d.straggler
	if s == nil {
		d.occupied.Store(false)
		return
	}
	d.straggler = nil
	select {
	case <-s:
		d.occupied.Store(false)
		return
	default:
	}
	d.log.Warn("Holding dispatcher until timed-out handler returns", "action", action)
	go func() {
		<-s
		d.occupied.Store(false)
		d.log.Info("Timed-out handler returned", "action", action)
	}()
}

// style runs the reply through the persona. A failing persona never costs the
// reply: the raw message is used instead.
func (d *Dispatcher) style(out outcome) (text string) {
	raw := out.result.Message
	if raw == "" {
		if out.kind == assistant.KindNone {
			raw = "Done."
		} else {
			raw = "Something went wrong."
		}
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Personality layer failed", "panic", r)
			text = raw
		}
	}()

	switch out.kind.ReplyKind() {
	case assistant.ReplyOK:
		d.errStreak = 0
		return d.persona.WrapOK(raw)
	case assistant.ReplyErr:
		d.errStreak++
		return d.persona.WrapErrStreak(raw, d.errStreak)
	default:
		return d.persona.WrapInfo(raw)
	}
}

func (d *Dispatcher) refine(id, raw string) {
	defer d.refiners.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.RewriteTimeout)
	defer cancel()

	text, err := d.rewriter.Rewrite(ctx, d.persona.Name(), raw)
	if err != nil {
		d.log.Debug("Failed to refine reply", "utterance", id, "err", err)
		return
	}
	if text == "" {
		return
	}
	d.emit(events.ReplyRefined, events.RefinedPayload{UtteranceID: id, Text: text, TS: time.Now()})
}

func (d *Dispatcher) acknowledge(origin Origin, u assistant.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Acknowledge hook panicked", "utterance", u.ID, "panic", r)
		}
	}()
	origin.Acknowledge(u, d.persona.Acknowledge(u.RawText))
}

func (d *Dispatcher) display(origin Origin, u assistant.Utterance, reply assistant.Reply) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Display hook panicked", "utterance", u.ID, "panic", r)
		}
	}()
	origin.Display(u, reply)
}

func (d *Dispatcher) emit(topic events.Topic, payload any) {
	if d.bus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("Event emission failed", "topic", topic, "panic", r)
		}
	}()
	d.bus.Emit(topic, payload)
}
