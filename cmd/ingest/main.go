package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/sentinel-ingest/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sentinel-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/sentinel-ingest/internal/adapter/postgres"
	"github.com/couchcryptid/sentinel-ingest/internal/adapter/stream"
	"github.com/couchcryptid/sentinel-ingest/internal/config"
	"github.com/couchcryptid/sentinel-ingest/internal/observability"
	"github.com/couchcryptid/sentinel-ingest/internal/pipeline"
	"github.com/couchcryptid/sentinel-ingest/internal/resilience"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	envFiles, err := config.LoadEnvFiles(config.DefaultEnvFiles...)
	if err != nil {
		slog.Error("failed to read env files", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	if len(envFiles) > 0 {
		logger.Info("loaded env files", "files", envFiles)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := newTransport(cfg, logger)

	var (
		sinks   []pipeline.NamedSink
		store   *postgres.Store
		kwriter *kafkaadapter.Writer
		opts    = httpadapter.Options{FetchMax: cfg.FetchMax, Metrics: metrics}
	)
	if cfg.FetchRateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.FetchRateLimit), cfg.FetchBurst)
	}
	if cfg.DatabaseURL != "" {
		store, err = postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if cfg.DatabaseMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				logger.Error("failed to create schema", "error", err)
				os.Exit(1)
			}
		}
		sinks = append(sinks, pipeline.NamedSink{Name: "postgres", Sink: store})
		opts.Sampler = store
	}
	if cfg.KafkaSinkTopic != "" {
		kwriter = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, pipeline.NamedSink{Name: "kafka", Sink: kwriter})
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic)
	}

	retry := resilience.DefaultRetryConfig(cfg.Transport)
	retry.MaxRetries = cfg.StreamMaxRetries
	retry.MaxDelay = cfg.StreamBackoffMax

	consumer := pipeline.New(transport, pipeline.NewTransformer(), pipeline.NewMultiSink(sinks...), logger, metrics, retry)
	srv := httpadapter.NewServer(cfg.HTTPAddr, consumer, opts, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// A terminated stream cancels gctx and stops the process.
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", "error", err)
		exitCode = 1
	}

	if err := transport.Close(); err != nil {
		logger.Error("transport close error", "error", err)
	}
	if kwriter != nil {
		if err := kwriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newTransport(cfg *config.Config, logger *slog.Logger) pipeline.Transport {
	if cfg.Transport == config.TransportHTTP {
		logger.Info("using http stream transport", "url", cfg.StreamURL)
		return stream.New(stream.Config{URL: cfg.StreamURL, Token: cfg.StreamToken}, logger)
	}
	logger.Info("using kafka transport", "topic", cfg.KafkaSourceTopic, "brokers", cfg.KafkaBrokers)
	return kafkaadapter.NewReader(cfg, logger)
}
