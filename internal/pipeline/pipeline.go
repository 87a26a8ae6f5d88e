package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	"github.com/couchcryptid/sentinel-ingest/internal/observability"
	"github.com/couchcryptid/sentinel-ingest/internal/resilience"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ErrTerminated is returned by Run when the reconnect policy is exhausted.
// Context cancellation is not a termination and returns nil.
var ErrTerminated = errors.New("stream terminated")

// State is the consumer's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport yields raw events from a live stream. Connect makes one attempt
// to establish (or re-establish) the connection; errors marked with
// resilience.Permanent are not retried. Next blocks for the next complete
// event; an error means the connection was disrupted.
type Transport interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (domain.RawEvent, error)
	Close() error
}

// Transformer converts a raw event into a normalized record.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.Record, error)
}

// Consumer drives a Transport, handling one event at a time in arrival order.
type Consumer struct {
	transport   Transport
	transformer Transformer
	sink        Sink
	logger      *slog.Logger
	metrics     *observability.Metrics
	policy      retrypolicy.RetryPolicy[domain.RawEvent]
	state       atomic.Int32
}

// New creates a Consumer in the disconnected state. retry bounds each
// disruption: the budget covers reconnecting and reading the first event,
// and is restored once an event arrives.
func New(tr Transport, t Transformer, s Sink, logger *slog.Logger, metrics *observability.Metrics, retry resilience.RetryConfig) *Consumer {
	return &Consumer{
		transport:   tr,
		transformer: t,
		sink:        s,
		logger:      logger,
		metrics:     metrics,
		policy:      resilience.NewRetryPolicy[domain.RawEvent](retry, logger),
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// CheckReadiness returns nil while the consumer is streaming.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if s := c.State(); s != StateStreaming {
		return fmt.Errorf("stream is %s", s)
	}
	return nil
}

// Run connects and processes events until the context is cancelled or the
// reconnect policy is exhausted.
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateConnecting)
	for {
		raw, err := c.resume(ctx)
		if err != nil {
			return c.terminate(ctx, "connect", err)
		}
		c.handle(ctx, raw)

		err = c.consume(ctx)
		if ctx.Err() != nil {
			return c.terminate(ctx, "read", err)
		}
		c.disrupted(err)
	}
}

// resume connects and waits for the first event under the retry policy. A
// server that accepts the connection and then drops it is retried with
// backoff like a refused connection.
func (c *Consumer) resume(ctx context.Context) (domain.RawEvent, error) {
	return resilience.Get(ctx, c.policy, func() (domain.RawEvent, error) {
		if err := c.transport.Connect(ctx); err != nil {
			return domain.RawEvent{}, err
		}
		c.setState(StateStreaming)
		c.logger.Info("stream connected")

		raw, err := c.transport.Next(ctx)
		if err != nil && ctx.Err() == nil {
			c.disrupted(err)
		}
		return raw, err
	})
}

// consume handles events until Next fails.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		raw, err := c.transport.Next(ctx)
		if err != nil {
			return err
		}
		c.handle(ctx, raw)
	}
}

func (c *Consumer) disrupted(cause error) {
	c.setState(StateReconnecting)
	c.metrics.Reconnects.Inc()
	c.logger.Warn("stream disrupted, reconnecting", "error", cause)
}

func (c *Consumer) terminate(ctx context.Context, op string, err error) error {
	c.setState(StateTerminated)
	if ctx.Err() != nil {
		c.logger.Info("consumer stopping", "reason", ctx.Err())
		return nil
	}
	c.logger.Error("stream terminated", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrTerminated, op, err)
}

// handle runs one event start to finish. Drops and sink failures are logged
// and never stop the stream.
func (c *Consumer) handle(ctx context.Context, raw domain.RawEvent) {
	c.metrics.EventsReceived.Inc()
	defer c.commit(ctx, raw)

	rec, err := c.transformer.Transform(ctx, raw)
	if err != nil {
		reason := DropReason(err)
		c.metrics.EventsDropped.WithLabelValues(reason).Inc()
		c.logger.Debug("dropping event", "reason", reason, "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
		return
	}

	if err := c.sink.Write(ctx, rec); err != nil {
		c.countSinkError(err)
		c.logger.Error("sink write failed", "id", rec.ID, "error", err)
		return
	}

	c.metrics.RecordsWritten.Inc()
	if rec.Exact {
		c.metrics.LocationsResolved.WithLabelValues("exact").Inc()
	} else {
		c.metrics.LocationsResolved.WithLabelValues("centroid").Inc()
	}
}

func (c *Consumer) countSinkError(err error) {
	var se *SinkError
	if errors.As(err, &se) {
		for _, name := range se.Failed {
			c.metrics.SinkErrors.WithLabelValues(name).Inc()
		}
		return
	}
	c.metrics.SinkErrors.WithLabelValues("default").Inc()
}

// commit acknowledges the event if the transport supports it.
func (c *Consumer) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		c.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.StreamState.Set(float64(s))
}

// DropReason maps a Transform error to its events_dropped_total label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingID):
		return observability.DropMissingID
	case errors.Is(err, domain.ErrNoLocation):
		return observability.DropNoLocation
	default:
		return observability.DropMalformed
	}
}
