// Package queue keeps a display client supplied with post texts from a
// bounded buffer that refills itself when it runs low.
//
// The client holds at most Capacity entries and shows the first
// VisibleWindow of them. Every PollInterval it checks the buffer; when the
// buffer has LowWatermark entries or fewer and no request is outstanding, it
// asks its Source for enough entries to fill back up to Capacity.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config sizes the buffer and sets the refill cadence.
type Config struct {
	Capacity      int
	LowWatermark  int
	VisibleWindow int
	PollInterval  time.Duration
}

// DefaultConfig returns capacity 30, low watermark 6, window 5, 10s polls.
func DefaultConfig() Config {
	return Config{
		Capacity:      30,
		LowWatermark:  6,
		VisibleWindow: 5,
		PollInterval:  10 * time.Second,
	}
}

// Validate checks that 0 <= LowWatermark < Capacity and that the window
// and interval are positive.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return errors.New("queue capacity must be positive")
	case c.LowWatermark < 0 || c.LowWatermark >= c.Capacity:
		return errors.New("queue low watermark must be in [0, capacity)")
	case c.VisibleWindow <= 0:
		return errors.New("queue visible window must be positive")
	case c.PollInterval <= 0:
		return errors.New("queue poll interval must be positive")
	}
	return nil
}

// Source supplies up to n texts. Returning fewer is allowed.
type Source interface {
	Fetch(ctx context.Context, n int) ([]string, error)
}

// Entry is one buffered text. Keys are unique for the life of a Client.
type Entry struct {
	Key     uint64
	Content string
}

// RemoveFunc removes the entry with the given key, reporting whether it
// was present.
type RemoveFunc func(key uint64) bool

// Renderer displays the visible window. It is called after every buffer
// change, never while the client's lock is held. Calls never overlap, and
// the last call always carries the current window.
type Renderer interface {
	Render(window []Entry, remove RemoveFunc)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(window []Entry, remove RemoveFunc)

func (f RendererFunc) Render(window []Entry, remove RemoveFunc) { f(window, remove) }

// Client is the bounded, self-refilling buffer.
type Client struct {
	cfg      Config
	source   Source
	renderer Renderer
	clock    clockwork.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	buf      []Entry
	nextKey  uint64
	inFlight bool
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc

	ticker  sync.WaitGroup
	fetches sync.WaitGroup

	// One goroutine renders at a time. A change made while it is busy sets
	// dirty and the same goroutine draws again from a fresh snapshot.
	renderMu  sync.Mutex
	rendering bool
	dirty     bool
}

// New creates a client. A nil clock uses the real clock; a nil renderer
// disables rendering.
func New(cfg Config, source Source, renderer Renderer, clock clockwork.Clock, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("queue source is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		cfg:      cfg,
		source:   source,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
		buf:      make([]Entry, 0, cfg.Capacity),
	}, nil
}

// Start performs one immediate refill and then checks the buffer every
// PollInterval until ctx is cancelled or Stop is called. Start is a no-op
// after the first call.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	c.Refill()

	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	c.ticker.Add(1)
	go func() {
		defer c.ticker.Done()
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.Chan():
				c.Refill()
			}
		}
	}()
}

// Stop cancels the periodic refill and any outstanding request, then waits
// for both to return. A result that arrives after cancellation is discarded
// and nothing is rendered after Stop.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.ticker.Wait()
	c.fetches.Wait()
}

// Refill requests Capacity minus the current size when the buffer is at or
// below the low watermark and no request is outstanding. It reports whether
// a request was issued. The request runs in the background.
func (c *Client) Refill() bool {
	c.mu.Lock()
	if !c.started || c.stopped || c.inFlight || len(c.buf) > c.cfg.LowWatermark {
		c.mu.Unlock()
		return false
	}
	n := c.cfg.Capacity - len(c.buf)
	c.inFlight = true
	ctx := c.ctx
	c.fetches.Add(1)
	c.mu.Unlock()

	c.logger.Debug("refilling queue", "requested", n)
	go c.fetch(ctx, n)
	return true
}

func (c *Client) fetch(ctx context.Context, n int) {
	defer c.fetches.Done()

	texts, err := c.source.Fetch(ctx, n)

	c.mu.Lock()
	c.inFlight = false
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("queue refill failed", "requested", n, "error", err)
		return
	}
	if len(texts) > n {
		texts = texts[:n]
	}
	for _, t := range texts {
		c.nextKey++
		c.buf = append(c.buf, Entry{Key: c.nextKey, Content: t})
	}
	c.mu.Unlock()

	c.logger.Debug("queue refilled", "requested", n, "received", len(texts))
	if len(texts) > 0 {
		c.render()
	}
}

// Remove deletes the entry with key from anywhere in the buffer, keeping
// the order of the rest.
func (c *Client) Remove(key uint64) bool {
	c.mu.Lock()
	i := slices.IndexFunc(c.buf, func(e Entry) bool { return e.Key == key })
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.buf = slices.Delete(c.buf, i, i+1)
	c.mu.Unlock()

	c.render()
	return true
}

// Visible returns a copy of the first VisibleWindow entries.
func (c *Client) Visible() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// Len returns the number of buffered entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *Client) visibleLocked() []Entry {
	n := min(len(c.buf), c.cfg.VisibleWindow)
	return slices.Clone(c.buf[:n])
}

// Redraw renders the current window, e.g. before the first refill lands.
func (c *Client) Redraw() {
	c.render()
}

// render draws the current window. It is safe to call from any goroutine,
// including from inside Render through the remove callback; the last
// window drawn always reflects the latest change.
func (c *Client) render() {
	if c.renderer == nil {
		return
	}

	c.renderMu.Lock()
	if c.rendering {
		c.dirty = true
		c.renderMu.Unlock()
		return
	}
	c.rendering = true
	c.renderMu.Unlock()

	for {
		c.mu.Lock()
		stopped := c.stopped
		window := c.visibleLocked()
		c.mu.Unlock()

		if !stopped {
			c.renderer.Render(window, c.Remove)
		}

		c.renderMu.Lock()
		if !c.dirty || stopped {
			c.rendering = false
			c.dirty = false
			c.renderMu.Unlock()
			return
		}
		c.dirty = false
		c.renderMu.Unlock()
	}
}
