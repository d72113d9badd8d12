// Command boi-daemon runs the assistant: it wires the language model, the
// dispatcher and every input gateway, and serves the control socket used by
// boi-ctl.
package main

import (
	"context"
	"errors"
	"io/fs"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"boi/internal/config"
)

const (
	exitOK   = 0
	exitInit = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.NewFlags(cli.CommandLine)
	cli.Parse()

	logger, closeLog := setupLogging(flags.LogLevel, flags.LogFile)
	defer closeLog()
	log.SetDefault(logger)

	log.Info("Booting up")

	if err := godotenv.Load(flags.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load env file", "path", flags.EnvFile, "err", err)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		return exitInit
	}
	flags.Apply(cfg)
	if err := cfg.Finalize(); err != nil {
		log.Error("Invalid configuration", "err", err)
		return exitInit
	}
	log.Debug("Loaded config", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := build(ctx, cfg, logger)
	if err != nil {
		log.Error("Failed to boot", "err", err)
		return exitInit
	}
	log.Info("Boot up - successful", "socket", cfg.IPC.Socket)

	if err := d.serve(ctx); err != nil {
		log.Error("Control socket failed", "err", err)
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.shutdown(shutdownCtx)

	return exitOK
}
