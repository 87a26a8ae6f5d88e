// Package fetch retrieves batches of post texts from the ingest service's
// /fetch endpoint. Client implements queue.Source.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusError is returned when the endpoint answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch endpoint error: status %d: %s", e.StatusCode, e.Body)
}

// Client requests texts over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a fetch client against baseURL (scheme and host,
// optionally a path prefix).
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Fetch asks for up to n texts. No request is made when n is not positive.
// A response longer than n is truncated.
func (c *Client) Fetch(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	u := c.baseURL + "/fetch?" + url.Values{"n": {strconv.Itoa(n)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var texts []string
	if err := json.NewDecoder(resp.Body).Decode(&texts); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(texts) > n {
		c.logger.Debug("truncating oversized fetch response", "requested", n, "received", len(texts))
		texts = texts[:n]
	}
	return texts, nil
}
