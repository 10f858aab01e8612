package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/amparo-line/amparo/internal/api"
	"github.com/amparo-line/amparo/internal/config"
	"github.com/amparo-line/amparo/internal/events"
	"github.com/amparo-line/amparo/internal/intake"
	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/notify"
	"github.com/amparo-line/amparo/internal/reengage"
	"github.com/amparo-line/amparo/internal/retention"
	"github.com/amparo-line/amparo/internal/router"
	"github.com/amparo-line/amparo/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("amparo starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// NATS event bus
	bus, err := events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bus.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Messaging gateway (optional — without credentials the channel
	// degrades to logged no-ops instead of crashing)
	var sender messaging.Sender
	if cfg.GatewayURL != "" && cfg.GatewayToken != "" {
		sender = messaging.NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken, slog.Default())
		slog.Info("messaging gateway ready", "url", cfg.GatewayURL)
	} else {
		sender = messaging.NoopSender{Logger: slog.Default()}
		slog.Warn("messaging gateway not configured — outbound sends are no-ops")
	}

	// Core components
	proc := intake.New(db, sender, bus, cfg.SurveyReplyWindow, slog.Default())
	rt := router.New(db, sender, bus, slog.Default())
	ret := retention.New(db, sender, bus, cfg.RetentionWindow, slog.Default())
	re := reengage.New(db, sender, cfg.AutoMessageWait, cfg.AutoMessageMax, slog.Default())

	// Notification dispatcher consumes notify events off the bus so
	// fan-out never blocks the webhook path.
	push := notify.NewHTTPPushSender(slog.Default())
	dispatcher := notify.NewDispatcher(db, push, sender, slog.Default())
	if err := bus.Subscribe(events.SubjectNotify, dispatcher.HandleNotifyEvent); err != nil {
		slog.Error("failed to subscribe to notify events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, proc, rt, ret, re, cfg.TriggerToken, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("amparo ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("amparo stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
