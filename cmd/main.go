/*
Package main is the entry point for the relay server.

It loads configuration, initializes the global logger, starts the Hub and the
HTTP server, and on SIGINT or SIGTERM tells every client the server is
restarting before shutting down.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/time/rate"

	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("rate_limit_messages", cfg.RateLimitMessages).
		Dur("rate_limit_window", cfg.RateLimitWindow).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := chat.NewMetrics()
	hub := chat.NewHub(chat.Options{
		Policy: chat.Policy{
			RateLimitMessages: cfg.RateLimitMessages,
			RateLimitWindow:   cfg.RateLimitWindow,
			MaxFieldLength:    cfg.MaxFieldLength,
			MaxChatLength:     cfg.MaxChatLength,
		},
		HistoryLimit:      cfg.HistoryLimit,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Metrics:           metrics,
	})
	go hub.Run(ctx)

	deps := &handler.AppDeps{
		Hub:            hub,
		Config:         cfg,
		Metrics:        metrics,
		ConnectLimiter: limiter.NewIPRateLimiter(ctx, rate.Limit(cfg.ConnectRate), cfg.ConnectBurst),
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     handler.Router(deps),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info("Relay server starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Drain the hub before stopping the listener so clients get the restart
	// notice and close code instead of a dropped connection.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logx.Info("Received shutdown signal. Starting graceful shutdown...")

				hubErr := hub.Shutdown(ctx)
				if hubErr != nil {
					logx.Warn("hub did not drain cleanly", "error", hubErr.Error())
				}
				cancel()

				return errors.Join(hubErr, server.Shutdown(ctx))
			},
		},
	)

	exitCode := <-wait
	logx.Info("Server stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}
