package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
)

// Sink persists a single normalized record. Implementations must bind
// record fields as parameters, never by building query text.
type Sink interface {
	Write(ctx context.Context, rec domain.Record) error
}

// NamedSink pairs a sink with the label used in logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// SinkError reports which sinks of a MultiSink failed.
type SinkError struct {
	Failed []string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink write failed (%v): %v", e.Failed, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// MultiSink writes each record once to every configured sink. A failure in
// one sink does not prevent writes to the others.
type MultiSink struct {
	sinks []NamedSink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, rec domain.Record) error {
	var (
		failed []string
		errs   []error
	)
	for _, s := range m.sinks {
		if err := s.Sink.Write(ctx, rec); err != nil {
			failed = append(failed, s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &SinkError{Failed: failed, Err: errors.Join(errs...)}
}
