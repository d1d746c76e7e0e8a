// Kalshi execution middleware — in-process order execution for Kalshi
// binary prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the stack, waits for SIGINT/SIGTERM
//	portfolio/manager.go — trading-facing API: submit/cancel orders, mirror lifecycle state
//	bus/bus.go           — command bus (single consumer) and fan-out event bus
//	execution/engine.go  — consumes commands, polls orders and positions, publishes events
//	execution/kalshi_*   — venue adapter mapping the normalized model onto the Kalshi API
//	kalshi/client.go     — signed REST client: one worker, token-bucket limits, bounded retries
//	obs/recorder.go      — non-blocking recorder persisting every command/event to sinks
//
// Order flow:
//
//	Callers submit through the portfolio manager, which enqueues commands
//	on the command bus. The execution engine drains the bus, drives the
//	venue adapter, and publishes lifecycle events (submitted, updates,
//	fills, cancels) on the event bus. The manager mirrors those events
//	into queryable state while the recorder persists every message.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"kalshi-exec/internal/bus"
	"kalshi-exec/internal/config"
	"kalshi-exec/internal/execution"
	"kalshi-exec/internal/kalshi"
	"kalshi-exec/internal/obs"
	"kalshi-exec/internal/portfolio"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Observability: every command and event lands in SQLite.
	sqliteSink, err := obs.NewSQLiteSink(cfg.Observability.DBPath)
	if err != nil {
		logger.Error("failed to open observability store", "error", err, "path", cfg.Observability.DBPath)
		os.Exit(1)
	}
	recorder := obs.NewRecorder(sqliteSink, logger, 0)

	commands := bus.NewCommandBus(recorder)
	events := bus.NewEventBus(recorder)

	client, err := kalshi.NewClient(cfg.Kalshi, logger)
	if err != nil {
		logger.Error("failed to create kalshi client", "error", err)
		os.Exit(1)
	}

	adapter := execution.NewKalshiAdapter(client)
	engine := execution.NewEngine(adapter, commands, events, logger, execution.EngineConfig{})
	manager := portfolio.NewManager(commands, events, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); engine.Run(ctx) }()
	go func() { defer wg.Done(); manager.Run(ctx) }()

	logger.Info("kalshi execution middleware started",
		"demo", cfg.Kalshi.UseDemo,
		"base_url", cfg.Kalshi.BaseURL(),
		"rate_limit", cfg.Kalshi.RateLimit,
		"observability_db", cfg.Observability.DBPath,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	wg.Wait()
	client.Close()

	// Drain the recorder last so shutdown events are persisted.
	if err := recorder.Close(); err != nil {
		logger.Error("failed to close recorder", "error", err)
	}
	if status := recorder.Status(); status.Degraded() {
		logger.Warn("observability degraded during run",
			"dropped", status.Dropped,
			"write_failures", status.WriteFailures,
		)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
