package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Transport names accepted in TRANSPORT.
const (
	TransportKafka = "kafka"
	TransportHTTP  = "http"
)

// Config holds the ingest service settings, populated from environment variables.
type Config struct {
	Transport string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string // empty disables the Kafka sink
	KafkaGroupID     string

	// HTTP stream transport.
	StreamURL        string
	StreamToken      string
	StreamMaxRetries int
	StreamBackoffMax time.Duration

	// PostgreSQL sink and fetch endpoint. Empty URL disables both.
	DatabaseURL     string
	DatabaseMigrate bool
	FetchMax        int
	FetchRateLimit  float64 // requests per second on /fetch; 0 disables
	FetchBurst      int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	maxRetries, err := parseInt("STREAM_MAX_RETRIES", 10, -1)
	if err != nil {
		return nil, err
	}

	backoffMax, err := parseDuration("STREAM_BACKOFF_MAX", "30s")
	if err != nil {
		return nil, err
	}

	fetchMax, err := parseInt("FETCH_MAX", 100, 1)
	if err != nil {
		return nil, err
	}

	fetchRate, err := parseFloat("FETCH_RATE_LIMIT", 20)
	if err != nil {
		return nil, err
	}

	fetchBurst, err := parseInt("FETCH_BURST", 40, 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Transport:        strings.ToLower(sharedcfg.EnvOrDefault("TRANSPORT", TransportKafka)),
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-posts"),
		KafkaSinkTopic:   os.Getenv("KAFKA_SINK_TOPIC"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sentinel-ingest"),
		StreamURL:        os.Getenv("STREAM_URL"),
		StreamToken:      os.Getenv("STREAM_TOKEN"),
		StreamMaxRetries: maxRetries,
		StreamBackoffMax: backoffMax,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseMigrate:  os.Getenv("DATABASE_MIGRATE") == "true",
		FetchMax:         fetchMax,
		FetchRateLimit:   fetchRate,
		FetchBurst:       fetchBurst,
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
	}

	switch cfg.Transport {
	case TransportKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case TransportHTTP:
		if cfg.StreamURL == "" {
			return nil, errors.New("STREAM_URL is required when TRANSPORT=http")
		}
	default:
		return nil, fmt.Errorf("invalid TRANSPORT %q (want kafka or http)", cfg.Transport)
	}

	if cfg.KafkaSinkTopic != "" && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_SINK_TOPIC is set but KAFKA_BROKERS is empty")
	}
	if cfg.DatabaseURL == "" && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("no sink configured: set DATABASE_URL and/or KAFKA_SINK_TOPIC")
	}

	return cfg, nil
}

// TaggerConfig holds the terminal tagger settings.
type TaggerConfig struct {
	SourceURL    string
	FetchTimeout time.Duration

	QueueCapacity      int
	QueueLowWatermark  int
	QueueVisibleWindow int
	QueuePollInterval  time.Duration

	LogLevel  string
	LogFormat string
}

// LoadTagger reads the tagger configuration from environment variables.
// Queue defaults are capacity 30, low watermark 6, window 5, poll every 10s.
func LoadTagger() (*TaggerConfig, error) {
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	capacity, err := parseInt("QUEUE_CAPACITY", 30, 1)
	if err != nil {
		return nil, err
	}
	low, err := parseInt("QUEUE_LOW_WATERMARK", 6, 0)
	if err != nil {
		return nil, err
	}
	window, err := parseInt("QUEUE_VISIBLE_WINDOW", 5, 1)
	if err != nil {
		return nil, err
	}
	poll, err := parseDuration("QUEUE_POLL_INTERVAL", "10s")
	if err != nil {
		return nil, err
	}

	cfg := &TaggerConfig{
		SourceURL:          sharedcfg.EnvOrDefault("SOURCE_URL", "http://localhost:8080"),
		FetchTimeout:       fetchTimeout,
		QueueCapacity:      capacity,
		QueueLowWatermark:  low,
		QueueVisibleWindow: window,
		QueuePollInterval:  poll,
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
	}

	if cfg.QueueLowWatermark >= cfg.QueueCapacity {
		return nil, errors.New("QUEUE_LOW_WATERMARK must be below QUEUE_CAPACITY")
	}
	return cfg, nil
}

// parseInt reads an integer env var, rejecting values below minValue.
func parseInt(key string, def, minValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minValue {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

// parseFloat reads a non-negative float env var.
func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return f, nil
}

// parseDuration reads a positive duration env var.
func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}
