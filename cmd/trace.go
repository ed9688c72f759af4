package cmd

import (
	"log/slog"
	"os"
)

// initTrace initializes the logger. Logs go to stderr, stdout carries the report.
func initTrace(debugLevel string) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	switch debugLevel {
	case "debug":
		handlerOptions.Level = slog.LevelDebug
		handlerOptions.AddSource = true
	case "info":
		handlerOptions.Level = slog.LevelInfo
	case "warn":
		handlerOptions.Level = slog.LevelWarn
	case "error":
		handlerOptions.Level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, handlerOptions))
}
