// Command mailsentry attaches the AI assistant overlay to a Gmail tab.
//
// Usage:
//
//	mailsentry                                   # launch Chrome on the inbox with defaults
//	mailsentry -config mailsentry.yaml           # full configuration
//	mailsentry -remote ws://127.0.0.1:9222/...   # attach to a running Chrome
//	mailsentry -http 127.0.0.1:8787              # status API and MCP endpoint
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/mailsentry/overlay"
)

func main() {
	configPath := flag.String("config", "", "path to mailsentry.yaml config file")
	pageURL := flag.String("url", "", "mailbox URL (overrides host.url)")
	remote := flag.String("remote", "", "CDP websocket URL of a running Chrome (overrides host.remote)")
	httpAddr := flag.String("http", "", "status API listen address (overrides http.addr, \"off\" disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := overlay.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = overlay.LoadConfigFile(*configPath); err != nil {
			logger.Error("mailsentry: load config", "error", err)
			os.Exit(1)
		}
	}
	if *pageURL != "" {
		cfg.Host.URL = *pageURL
	}
	if *remote != "" {
		cfg.Host.Remote = *remote
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("mailsentry: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *overlay.Config) error {
	sess, err := overlay.Attach(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("mailsentry: close", "error", err)
		}
	}()

	if cfg.HTTP.Addr != "off" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           sess.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("mailsentry: status API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("mailsentry: status API", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("mailsentry: status API shutdown", "error", err)
			}
		}()
	}

	return sess.Run(ctx)
}
