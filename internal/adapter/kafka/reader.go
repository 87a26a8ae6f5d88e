package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/sentinel-ingest/internal/config"
	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes raw posts from the source topic.
// It implements pipeline.Transport.
type Reader struct {
	brokers []string
	logger  *slog.Logger

	mu     sync.Mutex
	reader *kafkago.Reader
	cfg    kafkago.ReaderConfig
}

// NewReader creates a consumer-group reader for the configured source topic.
// No connection is made until Connect.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	return &Reader{
		brokers: cfg.KafkaBrokers,
		logger:  logger,
		cfg: kafkago.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaSourceTopic,
			GroupID:  cfg.KafkaGroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		},
	}
}

// Connect verifies a broker is reachable and creates the underlying reader
// on first use. kafka-go manages its own group session after that.
func (r *Reader) Connect(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect kafka %v: %w", r.brokers, err)
	}
	_ = conn.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		r.reader = kafkago.NewReader(r.cfg)
		r.logger.Info("kafka reader started", "topic", r.cfg.Topic, "group", r.cfg.GroupID)
	}
	return nil
}

func (r *Reader) dial(ctx context.Context) (*kafkago.Conn, error) {
	var lastErr error
	for _, b := range r.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Next fetches the next message. The returned event commits its offset when
// its Commit callback is invoked.
func (r *Reader) Next(ctx context.Context) (domain.RawEvent, error) {
	r.mu.Lock()
	reader := r.reader
	r.mu.Unlock()
	if reader == nil {
		return domain.RawEvent{}, fmt.Errorf("kafka reader not connected")
	}

	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("fetch message: %w", err)
	}

	raw := mapMessageToRawEvent(msg)
	raw.Commit = func(ctx context.Context) error {
		return reader.CommitMessages(ctx, msg)
	}
	return raw, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

func mapMessageToRawEvent(msg kafkago.Message) domain.RawEvent {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
