// Package handlers holds the built-in actions the assistant ships with.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"boi/internal/assistant"
	"boi/internal/memory"
	"boi/internal/persona"
	"boi/internal/registry"
	"boi/pkg/protocol"
)

// History is the conversation memory as seen by show_history.
type History interface {
	Recent(k int) []assistant.MemoryTurn
	Stats() memory.Stats
}

// DeviceLink carries device_control requests to the device hub.
type DeviceLink interface {
	Request(ctx context.Context, f protocol.Frame) (*protocol.Frame, error)
}

// Launcher starts a desktop application by name.
type Launcher func(ctx context.Context, name string) error

type Deps struct {
	Persona *persona.Persona
	History History
	// Launch defaults to starting the binary found on PATH.
	Launch Launcher
	// Devices enables device_control when set.
	Devices DeviceLink
	// Home is never deleted by delete_path. Defaults to the user's home.
	Home  string
	Clock func() time.Time
	Log   *slog.Logger
}

// RegisterBuiltins adds every built-in action to r.
func RegisterBuiltins(r *registry.Registry, d Deps) error {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Launch == nil {
		d.Launch = startProcess
	}
	if d.Home == "" {
		d.Home = userHome()
	}

	type builtin struct {
		name   string
		h      registry.HandlerFunc
		schema registry.Schema
		flags  registry.Flags
	}
	builtins := []builtin{
		{"greet", greet(d), greetSchema, registry.Flags{}},
		{"current_time", currentTime(d), timeSchema, registry.Flags{}},
		{"show_history", showHistory(d), historySchema, registry.Flags{}},
		{"open_app", openApp(d), openAppSchema, registry.Flags{Timeout: 10 * time.Second}},
		{"delete_path", deletePath(d), deleteSchema, registry.Flags{Destructive: true, Timeout: time.Minute}},
	}
	if d.Devices != nil {
		builtins = append(builtins, builtin{"device_control", deviceControl(d), deviceSchema, registry.Flags{Timeout: 10 * time.Second}})
	}

	for _, b := range builtins {
		if err := r.Register(b.name, b.h, b.schema, b.flags); err != nil {
			return err
		}
	}
	return nil
}

func intParam(params map[string]any, name string, def int) int {
	if v, ok := params[name].(float64); ok {
		return int(v)
	}
	return def
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}
