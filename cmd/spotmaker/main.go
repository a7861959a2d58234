package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/recomma/spotmaker/cmd/spotmaker/internal/config"
	"github.com/recomma/spotmaker/session"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}

	if err := config.ApplyFileDefaults(fs, &cfg); err != nil {
		fatal("reading config file failed", err)
	}

	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	var logFile io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fatal("opening log file failed", err)
		}
		defer f.Close()
		logFile = f
	}

	logger := slog.New(config.GetLogHandler(cfg, logFile))
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, AppOptions{Config: cfg, Logger: logger})
	if err != nil {
		fatal("startup failed", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown error", slog.String("error", err.Error()))
		}
	}()

	logger.Info("spotmaker starting",
		slog.Any("trade-pairs", cfg.TradePairs),
		slog.Any("dca-pairs", cfg.DCAPairs),
		slog.Duration("trade-interval", cfg.TradeInterval),
	)

	if err := app.Run(ctx); err != nil {
		if errors.Is(err, session.ErrAuth) {
			logger.Error("exchange rejected the credentials", slog.String("error", err.Error()))
		} else {
			logger.Error("spotmaker stopped", slog.String("error", err.Error()))
		}
		stop()
		_ = app.Close()
		os.Exit(1)
	}

	logger.Info("spotmaker stopped")
}
