package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openquant/botcore/internal/app"
	"github.com/openquant/botcore/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting botcore",
		slog.String("config", *configPath),
		slog.String("mode", cfg.Mode),
		slog.String("bot", cfg.Bot.Name),
	)

	if err := app.New(*cfg, logger).Run(ctx); err != nil {
		logger.Error("botcore exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("botcore stopped")
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
