package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3/option"

	"boi/internal/audio"
	"boi/internal/config"
	"boi/internal/dispatch"
	"boi/internal/events"
	"boi/internal/gateway"
	"boi/internal/handlers"
	"boi/internal/ipc"
	"boi/internal/memory"
	"boi/internal/notify"
	"boi/internal/nlu"
	"boi/internal/persona"
	"boi/internal/proxy"
	"boi/internal/registry"
	"boi/internal/tts"
	"boi/internal/tts/espeak"
	"boi/pkg/protocol"
	"boi/pkg/stt"
)

// daemon holds everything build wired, in shutdown order.
type daemon struct {
	log *log.Logger

	ipc        *ipc.Server
	gesture    *gateway.Gesture
	voice      *gateway.Voice
	dispatcher *dispatch.Dispatcher
	sink       *tts.Sink
	bus        *events.Bus
	memory     *memory.Memory
	metrics    *http.Server

	recorder    *audio.Recorder
	transcriber *stt.Transcriber
	provider    string

	// background goroutines, stopped by cancel
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*daemon, error) {
	ctx, cancel := context.WithCancel(ctx)
	d := &daemon{log: logger, cancel: cancel}
	ok := false
	defer func() {
		if !ok {
			d.shutdown(context.Background())
		}
	}()

	llm, err := buildLLM(ctx, cfg.LLM, cfg.Personality.Name, logger)
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}
	d.provider = llm.ProviderName()

	var store memory.Store
	if cfg.Memory.Path != "" {
		s, err := memory.OpenSQLite(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		store = s
		logger.Debug("Opened memory store", "path", cfg.Memory.Path, "session", s.Session())
	}
	d.memory = memory.New(cfg.Memory.Size, store, logger.With("component", "memory"))
	if err := d.memory.Restore(ctx); err != nil {
		logger.Warn("Failed to restore memory", "err", err)
	}

	p := persona.New(persona.Config{
		Enabled:  cfg.Personality.Enabled,
		Name:     cfg.Personality.Name,
		UserName: cfg.Personality.UserName,
		Brief:    cfg.Personality.Brief,
	})

	d.sink = buildSink(cfg.TTS, logger)

	d.bus = events.NewBus(logger.With("component", "events"))
	m := events.NewMetrics()
	d.bus.SubscribeFunc("metrics", m.Observe)
	if cfg.Events.MetricsAddr != "" {
		d.serveMetrics(cfg.Events.MetricsAddr, m.Handler())
	}
	if cfg.Events.WSURL != "" {
		fwd := events.NewWSForwarder(cfg.Events.WSURL, 0, logger.With("component", "ws"))
		in := d.bus.Subscribe("ws", 0)
		d.goBackground(func() { fwd.Run(ctx, in) })
	}

	reg := registry.New()
	hdeps := handlers.Deps{
		Persona: p,
		History: d.memory,
		Log:     logger.With("component", "handlers"),
	}
	if cfg.Devices.HubURL != "" {
		link := protocol.NewLink(protocol.LinkConfig{
			Shard: cfg.Devices.Shard,
			URL:   cfg.Devices.HubURL,
			OnFrame: func(f *protocol.Frame) {
				logger.Info("Device hub says", "frame", f.String())
			},
		}, logger.With("component", "devices"))
		d.goBackground(func() { _ = link.Run(ctx) })
		hdeps.Devices = link
	}
	if err := handlers.RegisterBuiltins(reg, hdeps); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	deps := dispatch.Deps{
		Registry: reg,
		Parser:   llm,
		Memory:   d.memory,
		Persona:  p,
		Speaker:  d.sink,
		Bus:      d.bus,
		Log:      logger.With("component", "dispatch"),
	}
	if cfg.Personality.Rewrite && llm.Available() {
		deps.Rewriter = llm
	}
	d.dispatcher, err = dispatch.New(deps, dispatch.Config{ConfirmDestructive: cfg.Confirm.Destructive})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	displays := gateway.Displays{gateway.LogDisplay{Log: logger.With("component", "chat")}}
	if cfg.Notify.Desktop {
		displays = append(displays, notify.NewDesktop(cfg.Personality.Name, logger))
	}

	ctl := &controller{
		text:   gateway.NewText(d.dispatcher, displays, nil),
		sink:   d.sink,
		status: func() any { return d.status() },
		log:    logger.With("component", "control"),
	}

	if cfg.Voice.Enabled {
		if err := d.buildVoice(cfg, displays, logger); err != nil {
			return nil, fmt.Errorf("voice gateway: %w", err)
		}
		ctl.voice = d.voice
		ctl.stt = d.transcriber
	}

	if cfg.Gesture.Enabled {
		greeter := &gateway.Greeter{Persona: p, Display: displays, Speaker: d.sink}
		var vc gateway.VoiceControl
		if d.voice != nil {
			vc = d.voice
		}
		d.gesture = gateway.NewGesture(vc, greeter.Greet, gateway.GestureConfig{Enabled: true}, logger.With("component", "gesture"))
		ctl.gesture = d.gesture
	}

	d.ipc, err = ipc.Listen(cfg.IPC.Socket, ctl, logger.With("component", "ipc"))
	if err != nil {
		return nil, fmt.Errorf("control socket: %w", err)
	}

	ok = true
	return d, nil
}

func buildLLM(ctx context.Context, cfg config.LLMConfig, name string, logger *log.Logger) (*nlu.Client, error) {
	ncfg := nlu.Config{
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		MinInterval: cfg.MinInterval,
		Name:        name,
	}
	nlog := logger.With("component", "nlu")

	if cfg.APIKey == "" {
		logger.Warn("No API key configured; commands cannot be understood until one is set", "provider", cfg.Provider)
		return nlu.New(nil, ncfg, nlog), nil
	}

	var httpClient *http.Client
	if cfg.Proxy != "" {
		c, err := proxy.NewSocksClient(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", cfg.Proxy, err)
		}
		httpClient = c
		logger.Debug("Loaded proxy", "proxy", cfg.Proxy)
	}

	var provider nlu.Provider
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := nlu.NewGemini(ctx, cfg.APIKey, cfg.Model, httpClient)
		if err != nil {
			return nil, err
		}
		provider = g
	default:
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		provider = nlu.NewOpenAI(cfg.APIKey, cfg.Model, httpClient, opts...)
	}
	logger.Info("Language model ready", "provider", provider.Name(), "model", cfg.Model)
	return nlu.New(provider, ncfg, nlog), nil
}

// buildSink never fails: without a working engine the assistant stays silent.
func buildSink(cfg config.TTSConfig, logger *log.Logger) *tts.Sink {
	tlog := logger.With("component", "tts")

	var engine tts.Engine
	if cfg.Enabled {
		e, err := espeak.New(espeak.Config{Voice: cfg.Voice, Rate: cfg.Rate, Volume: cfg.Volume})
		if err != nil {
			tlog.Warn("Failed to init espeak, speech disabled", "err", err)
		} else {
			engine = e
		}
	}

	var ducker tts.Ducker
	if cfg.Duck {
		ducker = audio.NewDucker(audio.DuckConfig{
			SelfNames: []string{"espeak-ng", "espeak", "boi-daemon"},
			Factor:    0.3,
			MinVolume: 10,
			Fade:      200 * time.Millisecond,
		})
	}

	return tts.New(engine, tts.Config{
		Enabled:       cfg.Enabled,
		SummarizeOver: cfg.SummarizeOver,
		Ducker:        ducker,
	}, tlog)
}

func (d *daemon) buildVoice(cfg *config.Config, display gateway.Display, logger *log.Logger) error {
	d.recorder = audio.NewRecorder(audio.RecorderConfig{MaxPhrase: cfg.Voice.CaptureTimeout})
	if err := d.recorder.Init(); err != nil {
		d.recorder = nil
		return fmt.Errorf("init audio: %w", err)
	}
	logger.Debug("Loaded recorder")

	tr, err := stt.New(cfg.Voice.ModelPath, stt.Options{
		Language:      cfg.Voice.Language,
		InitialPrompt: strings.Join(cfg.Voice.WakeWords, ", "),
	})
	if err != nil {
		return fmt.Errorf("load whisper (set voice.model_path or run with --no-voice): %w", err)
	}
	d.transcriber = tr
	logger.Debug("Loaded whisper", "model", cfg.Voice.ModelPath)

	vcfg := gateway.VoiceConfig{
		WakeWords:      cfg.Voice.WakeWords,
		WakeEnabled:    cfg.Voice.WakeWordEnabled,
		CaptureTimeout: cfg.Voice.CaptureTimeout,
	}
	if cfg.Voice.Earcon != "" {
		vcfg.Cue = notify.NewEarcon(cfg.Voice.Earcon, logger).Cue
	}

	listener := audio.NewListener(d.recorder, tr, 0, logger.With("component", "listener"))
	d.voice = gateway.NewVoice(listener, d.dispatcher, display, d.sink, vcfg, logger.With("component", "voice"))
	if cfg.Voice.ListenOnStart {
		d.voice.SetListening(true)
	}
	return nil
}

func (d *daemon) serveMetrics(addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	d.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	d.goBackground(func() {
		d.log.Info("Serving metrics", "addr", addr)
		if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("Metrics server failed", "err", err)
		}
	})
}

func (d *daemon) goBackground(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *daemon) serve(ctx context.Context) error {
	return d.ipc.Serve(ctx)
}

type daemonStatus struct {
	State    string                     `json:"state"`
	Busy     bool                       `json:"busy"`
	Provider string                     `json:"provider"`
	Voice    *gateway.VoiceState        `json:"voice,omitempty"`
	Gesture  *gateway.GestureState      `json:"gesture,omitempty"`
	Recent   []dispatch.ExecutionRecord `json:"recent"`
}

func (d *daemon) status() daemonStatus {
	st := daemonStatus{
		State:    d.dispatcher.State().String(),
		Busy:     d.dispatcher.Busy(),
		Provider: d.provider,
		Recent:   d.dispatcher.Recent(),
	}
	if d.voice != nil {
		v := d.voice.Status()
		st.Voice = &v
	}
	if d.gesture != nil {
		g := d.gesture.Status()
		st.Gesture = &g
	}
	return st
}

// shutdown stops inputs first, then the dispatcher, then its sinks.
func (d *daemon) shutdown(ctx context.Context) {
	step := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			d.log.Warn("Failed to stop cleanly", "component", name, "err", err)
		}
	}

	if d.voice != nil {
		step("voice", d.voice.Close)
	}
	if d.dispatcher != nil {
		step("dispatcher", d.dispatcher.Close)
	}
	if d.sink != nil {
		step("tts", d.sink.Close)
	}
	if d.bus != nil {
		step("events", d.bus.Close)
	}
	if d.metrics != nil {
		step("metrics", d.metrics.Shutdown)
	}
	if d.memory != nil {
		step("memory", func(context.Context) error { return d.memory.Close() })
	}
	if d.transcriber != nil {
		step("whisper", func(context.Context) error { return d.transcriber.Close() })
	}
	if d.recorder != nil {
		step("audio", func(context.Context) error { return d.recorder.Close() })
	}

	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("Background tasks still running at exit")
	}
}
