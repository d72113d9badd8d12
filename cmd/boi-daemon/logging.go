package main

import (
	"context"
	"errors"
	log "log/slog"
	"os"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// setupLogging logs to the console through tint and, when file is set, also
// as JSON to a rotated file.
func setupLogging(level, file string) (*log.Logger, func()) {
	lvl, ok := logLevelMap[level]
	if !ok {
		lvl = log.LevelInfo
	}

	console := tint.NewHandler(os.Stdout, &tint.Options{Level: lvl})
	if file == "" {
		return log.New(console), func() {}
	}

	rotated := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
		LocalTime:  true,
		Compress:   true,
	}
	h := teeHandler{console, log.NewJSONHandler(rotated, &log.HandlerOptions{Level: lvl})}
	return log.New(h), func() { _ = rotated.Close() }
}

type teeHandler []log.Handler

func (t teeHandler) Enabled(ctx context.Context, l log.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r log.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []log.Attr) log.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) log.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
