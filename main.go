package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

const (
	metricsLogEvery = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	headless := flag.String("headless", "", "Create lobbies without hosts: true or false (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: text or json")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *headless != "" {
		b, err := strconv.ParseBool(*headless)
		if err != nil {
			slog.Error("invalid -headless value", "value", *headless)
			os.Exit(1)
		}
		cfg.Game.Headless = b
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	var sink *EventSink
	if cfg.Events.NATSURL != "" {
		s, closeNATS, err := ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Error("event publisher unavailable", "error", err)
			os.Exit(1)
		}
		defer closeNATS()
		sink = s
		logger.Info("publishing match events", "nats", cfg.Events.NATSURL, "prefix", cfg.Events.SubjectPrefix)
	}

	metrics := NewMetrics(logger, metricsLogEvery, sink)
	lobbies := NewLobbyManager(cfg.MatchConfig(), cfg.Lobby.MaxLobbies, cfg.Lobby.IdleTimeout, metrics, logger)

	hub := NewHub(lobbies, metrics, cfg.Game.Headless, logger)
	if cfg.Limits.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := ConnectRedis(ctx, cfg.Limits.RedisAddr, cfg.Limits.RedisPassword)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, connection attempts not rate limited", "error", err)
		} else {
			defer rdb.Close()
			window := NewConnWindow(rdb, "pong:conn:", cfg.Limits.ConnAttempts, cfg.Limits.ConnWindow)
			hub.SetConnRateLimit(window.Allow)
			logger.Info("connection rate limit enabled", "redis", cfg.Limits.RedisAddr,
				"attempts", cfg.Limits.ConnAttempts, "window", cfg.Limits.ConnWindow)
		}
	}
	go hub.Run()

	mux := SetupRoutes(hub, cfg.Server.JoinURL)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "headless", cfg.Game.Headless)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	hub.Stop()
	lobbies.Stop()
	metrics.Stop()
	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
