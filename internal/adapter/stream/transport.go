// Package stream reads geotagged posts from an authenticated HTTP endpoint
// that emits one JSON document per line and keeps the connection open.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	"github.com/couchcryptid/sentinel-ingest/internal/resilience"
)

var (
	// ErrDisconnected is returned by Next when the server ends the stream.
	ErrDisconnected = errors.New("stream disconnected")
	// ErrUnauthorized is returned by Connect when the token is rejected.
	ErrUnauthorized = errors.New("stream credentials rejected")

	errLineTooLong = errors.New("line exceeds limit")
)

const (
	readBufferBytes = 64 * 1024
	maxLineBytes    = 1 << 20
)

// Config configures the HTTP stream transport.
type Config struct {
	URL   string
	Token string
}

// Transport implements pipeline.Transport over a long-lived HTTP response.
type Transport struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	body   io.ReadCloser
	reader *bufio.Reader
	offset int64
}

// New creates a stream transport. The HTTP client has no overall timeout
// since the response body stays open for the life of the stream.
func New(cfg Config, logger *slog.Logger) *Transport {
	return &Transport{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{},
		logger: logger,
	}
}

// Connect opens the stream. A previously open stream is closed first.
// Rejected credentials are returned as a permanent error.
func (t *Transport) Connect(ctx context.Context) error {
	t.closeBody()

	resp, err := t.open(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.body = resp.Body
	t.reader = bufio.NewReaderSize(resp.Body, readBufferBytes)
	t.mu.Unlock()

	t.logger.Info("http stream opened", "url", t.url)
	return nil
}

func (t *Transport) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, resilience.Permanent(fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("stream status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
}

// Next blocks until a complete non-empty line arrives. Blank keep-alive
// lines are skipped, as are lines longer than 1 MiB.
func (t *Transport) Next(ctx context.Context) (domain.RawEvent, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return domain.RawEvent{}, fmt.Errorf("%w: not connected", ErrDisconnected)
	}

	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			t.offset++
			t.logger.Warn("skipping oversized line", "offset", t.offset, "limit", maxLineBytes)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.RawEvent{}, ctxErr
			}
			return domain.RawEvent{}, fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		t.offset++
		return domain.RawEvent{
			Value:     line,
			Topic:     t.url,
			Offset:    t.offset,
			Timestamp: time.Now().UTC(),
		}, nil
	}
}

// readLine returns the next newline-terminated line, or the unterminated
// tail at end of stream. A line over maxLineBytes is consumed in full and
// reported as errLineTooLong.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineBytes {
				oversized = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, errors.Is(err, io.EOF) && len(line) > 0:
			if oversized {
				return nil, errLineTooLong
			}
			return line, nil
		case errors.Is(err, io.EOF) && oversized:
			return nil, errLineTooLong
		default:
			return nil, err
		}
	}
}

// Close releases the open response body, if any.
func (t *Transport) Close() error {
	return t.closeBody()
}

func (t *Transport) closeBody() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.body == nil {
		return nil
	}
	err := t.body.Close()
	t.body = nil
	t.reader = nil
	return err
}
