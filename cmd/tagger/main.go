// Command tagger shows a small rotating window of stored posts in the
// terminal. Typing an entry's number dismisses it; the queue refills from
// the ingest service's /fetch endpoint as it drains.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/sentinel-ingest/internal/adapter/fetch"
	"github.com/couchcryptid/sentinel-ingest/internal/config"
	"github.com/couchcryptid/sentinel-ingest/internal/observability"
	"github.com/couchcryptid/sentinel-ingest/internal/queue"
	"github.com/jonboulle/clockwork"
)

func main() {
	if _, err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		slog.Error("failed to read env files", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadTagger()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr so they do not interleave with the rendered window.
	logger := observability.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := fetch.NewClient(cfg.SourceURL, cfg.FetchTimeout, logger)
	term := newTerminal(os.Stdout)

	client, err := queue.New(queue.Config{
		Capacity:      cfg.QueueCapacity,
		LowWatermark:  cfg.QueueLowWatermark,
		VisibleWindow: cfg.QueueVisibleWindow,
		PollInterval:  cfg.QueuePollInterval,
	}, source, term, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.Error("invalid queue config", "error", err)
		os.Exit(1)
	}

	client.Start(ctx)
	client.Redraw()

	done := make(chan error, 1)
	go func() { done <- term.readCommands(ctx, os.Stdin) }()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			logger.Error("read input", "error", err)
		}
	}
	client.Stop()
}
