// Command voxloop is a duplex voice conversation client: it captures
// microphone audio, streams it to a realtime conversational agent, and plays
// the agent's spoken replies with support for natural interruption.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxloop/voxloop/internal/app"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "optional .env file with the agent API key")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "voxloop: load env file %q: %v\n", *envPath, err)
			return 1
		}
	} else {
		// Best effort: a .env beside the binary is common in development.
		_ = godotenv.Load()
	}

	// ── Configuration + live reload ───────────────────────────────────────────
	level := new(slog.LevelVar)
	var engineRef atomic.Pointer[app.Engine]
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		level.Set(slogLevel(next.LogLevel))
		if eng := engineRef.Load(); eng != nil {
			eng.ApplyTuning(next)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(slogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxloop starting",
		"config", *configPath,
		"model", cfg.Agent.Model,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxloop"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Engine ────────────────────────────────────────────────────────────────
	engine, err := app.New(ctx, cfg, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return 1
	}
	engineRef.Store(engine)

	if addr := cfg.Telemetry.ListenAddr; addr != "" {
		srv := telemetry.New(addr, metrics, logger, telemetry.Checker{
			Name: "agent_session",
			Check: func(context.Context) error {
				if !engine.Connected() {
					return errors.New("agent session not connected")
				}
				return nil
			},
		})
		go func() {
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("telemetry listener error", "err", err)
			}
		}()
	}

	slog.Info("ready — press Ctrl+C to shut down")

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
