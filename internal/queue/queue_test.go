package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type reply struct {
	texts []string
	err   error
}

// call is one outstanding Fetch. The test answers it through reply.
type call struct {
	n     int
	reply chan reply
}

// scriptedSource hands every Fetch to the test and blocks until answered.
type scriptedSource struct {
	calls       chan call
	ignoreClose bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{calls: make(chan call, 8)}
}

func (s *scriptedSource) Fetch(ctx context.Context, n int) ([]string, error) {
	c := call{n: n, reply: make(chan reply, 1)}
	s.calls <- c
	if s.ignoreClose {
		r := <-c.reply
		return r.texts, r.err
	}
	select {
	case r := <-c.reply:
		return r.texts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingRenderer struct {
	mu      sync.Mutex
	windows [][]Entry
}

func (r *recordingRenderer) Render(window []Entry, _ RemoveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, window)
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

func (r *recordingRenderer) last() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.windows) == 0 {
		return nil
	}
	return r.windows[len(r.windows)-1]
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func texts(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

func expectCall(t *testing.T, src *scriptedSource) call {
	t.Helper()
	select {
	case c := <-src.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("expected a fetch request")
		return call{}
	}
}

func expectNoCall(t *testing.T, src *scriptedSource) {
	t.Helper()
	select {
	case c := <-src.calls:
		t.Fatalf("unexpected fetch request for %d", c.n)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	client   *Client
	source   *scriptedSource
	renderer *recordingRenderer
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:   newScriptedSource(),
		renderer: &recordingRenderer{},
		clock:    clockwork.NewFakeClock(),
	}
	c, err := New(DefaultConfig(), h.source, h.renderer, h.clock, discardLogger())
	require.NoError(t, err)
	h.client = c
	t.Cleanup(c.Stop)
	return h
}

// start runs Start and answers the eager refill with the given texts.
func (h *harness) start(t *testing.T, initial []string) {
	t.Helper()
	h.client.Start(context.Background())
	c := expectCall(t, h.source)
	require.Equal(t, 30, c.n)
	c.reply <- reply{texts: initial}
	require.Eventually(t, func() bool { return h.client.Len() == len(initial) && h.idle() }, time.Second, time.Millisecond)
}

func (h *harness) idle() bool {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return !h.client.inFlight
}

func (h *harness) tick() {
	h.clock.Advance(DefaultConfig().PollInterval)
}

// --- tests ---

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Capacity = 0 }},
		{"watermark equals capacity", func(c *Config) { c.LowWatermark = c.Capacity }},
		{"negative watermark", func(c *Config) { c.LowWatermark = -1 }},
		{"zero window", func(c *Config) { c.VisibleWindow = 0 }},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil, discardLogger())
	require.Error(t, err)
}

func TestStart_EagerRefillRequestsCapacity(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 25))

	assert.Equal(t, 25, h.client.Len())
	window := h.client.Visible()
	require.Len(t, window, 5)
	assert.Equal(t, "a-0", window[0].Content)
	assert.Equal(t, "a-4", window[4].Content)
	assert.Equal(t, 1, h.renderer.count())
}

func TestTick_AboveWatermarkRequestsNothing(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 25))

	h.tick()
	expectNoCall(t, h.source)
	assert.Equal(t, 25, h.client.Len())
}

func TestTick_AtWatermarkRequestsDeficit(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 25))

	for h.client.Len() > 6 {
		require.True(t, h.client.Remove(h.client.Visible()[0].Key))
	}

	h.tick()
	c := expectCall(t, h.source)
	assert.Equal(t, 24, c.n, "capacity minus current size")

	c.reply <- reply{texts: texts("b", 24)}
	require.Eventually(t, func() bool { return h.client.Len() == 30 }, time.Second, time.Millisecond)
}

func TestTick_EmptyBufferRequestsCapacity(t *testing.T) {
	h := newHarness(t)
	h.start(t, nil)

	h.tick()
	c := expectCall(t, h.source)
	assert.Equal(t, 30, c.n)
	c.reply <- reply{texts: texts("x", 3)}
	require.Eventually(t, func() bool { return h.client.Len() == 3 }, time.Second, time.Millisecond)
}

func TestRefill_NoOverlappingRequests(t *testing.T) {
	h := newHarness(t)
	h.client.Start(context.Background())
	pending := expectCall(t, h.source)

	for range 3 {
		h.tick()
	}
	expectNoCall(t, h.source)
	assert.False(t, h.client.Refill())

	pending.reply <- reply{texts: texts("a", 2)}
	require.Eventually(t, func() bool { return h.client.Len() == 2 }, time.Second, time.Millisecond)

	h.tick()
	next := expectCall(t, h.source)
	assert.Equal(t, 28, next.n)
}

func TestRefill_FailureLeavesBufferUnchanged(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 4))
	renders := h.renderer.count()

	h.tick()
	c := expectCall(t, h.source)
	require.Equal(t, 26, c.n)
	c.reply <- reply{err: errors.New("503 service unavailable")}

	// The failed request must clear the in-flight flag so the next tick retries.
	require.Eventually(t, func() bool { return h.client.Refill() }, time.Second, time.Millisecond)
	retry := expectCall(t, h.source)
	assert.Equal(t, 26, retry.n)

	assert.Equal(t, 4, h.client.Len())
	assert.Equal(t, renders, h.renderer.count())
}

func TestRefill_TruncatesOverlongResponse(t *testing.T) {
	h := newHarness(t)
	h.client.Start(context.Background())
	c := expectCall(t, h.source)
	c.reply <- reply{texts: texts("a", 40)}

	require.Eventually(t, func() bool { return h.client.Len() == 30 }, time.Second, time.Millisecond)
}

func TestRefill_BeforeStartIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.client.Refill())
	expectNoCall(t, h.source)
}

func TestRemove_MiddleKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 10))

	window := h.client.Visible()
	require.True(t, h.client.Remove(window[2].Key))

	got := h.client.Visible()
	require.Len(t, got, 5)
	assert.Equal(t, []string{"a-0", "a-1", "a-3", "a-4", "a-5"}, contents(got))
	assert.Equal(t, 9, h.client.Len())
	assert.Equal(t, got, h.renderer.last())
}

func TestRemove_UnknownKey(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 3))
	renders := h.renderer.count()

	assert.False(t, h.client.Remove(9999))
	assert.Equal(t, 3, h.client.Len())
	assert.Equal(t, renders, h.renderer.count())
}

func TestRemove_ThroughRendererCallback(t *testing.T) {
	src := newScriptedSource()
	var (
		mu     sync.Mutex
		remove RemoveFunc
		first  Entry
	)
	r := RendererFunc(func(window []Entry, rm RemoveFunc) {
		mu.Lock()
		defer mu.Unlock()
		remove = rm
		if len(window) > 0 && first.Key == 0 {
			first = window[0]
		}
	})
	c, err := New(DefaultConfig(), src, r, clockwork.NewFakeClock(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	c.Start(context.Background())
	expectCall(t, src).reply <- reply{texts: texts("a", 2)}
	require.Eventually(t, func() bool { return c.Len() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	rm, key := remove, first.Key
	mu.Unlock()
	require.NotNil(t, rm)
	assert.True(t, rm(key))
	assert.Equal(t, []string{"a-1"}, contents(c.Visible()))
}

func TestKeys_UniqueAcrossRefills(t *testing.T) {
	h := newHarness(t)
	h.start(t, []string{"same", "same"})

	for h.client.Len() > 0 {
		h.client.Remove(h.client.Visible()[0].Key)
	}
	h.tick()
	expectCall(t, h.source).reply <- reply{texts: []string{"same", "same"}}
	require.Eventually(t, func() bool { return h.client.Len() == 2 }, time.Second, time.Millisecond)

	got := h.client.Visible()
	assert.Equal(t, uint64(3), got[0].Key)
	assert.Equal(t, uint64(4), got[1].Key)
}

func TestStop_WaitsForAndDiscardsLateResult(t *testing.T) {
	h := newHarness(t)
	h.source.ignoreClose = true
	h.client.Start(context.Background())
	pending := expectCall(t, h.source)

	stopped := make(chan struct{})
	go func() {
		h.client.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	pending.reply <- reply{texts: texts("late", 5)}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the request finished")
	}

	assert.Equal(t, 0, h.client.Len())
	assert.Equal(t, 0, h.renderer.count())
	assert.False(t, h.client.Refill())
}

func TestStop_CancelsOutstandingRequest(t *testing.T) {
	h := newHarness(t)
	h.client.Start(context.Background())
	expectCall(t, h.source)

	h.client.Stop()

	h.tick()
	expectNoCall(t, h.source)
	assert.Equal(t, 0, h.client.Len())
}

func TestRemove_AfterStopDoesNotRender(t *testing.T) {
	h := newHarness(t)
	h.start(t, texts("a", 3))
	h.client.Stop()
	before := h.renderer.count()

	assert.True(t, h.client.Remove(h.client.Visible()[0].Key))
	h.client.Redraw()

	assert.Equal(t, before, h.renderer.count())
	assert.Equal(t, 2, h.client.Len())
}

// gatedRenderer blocks its first Render until released.
type gatedRenderer struct {
	recordingRenderer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRenderer) Render(window []Entry, remove RemoveFunc) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.recordingRenderer.Render(window, remove)
}

func TestRender_LastWindowFollowsConcurrentRemove(t *testing.T) {
	src := newScriptedSource()
	r := &gatedRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := New(DefaultConfig(), src, r, clockwork.NewFakeClock(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	c.Start(context.Background())
	expectCall(t, src).reply <- reply{texts: []string{"a", "b", "c", "d", "e", "f"}}

	select {
	case <-r.entered:
	case <-time.After(time.Second):
		t.Fatal("refill did not render")
	}
	// The refill's render is blocked holding the window a..e.
	require.True(t, c.Remove(1))
	close(r.release)

	want := []string{"b", "c", "d", "e", "f"}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, contents(r.last()))
	}, time.Second, time.Millisecond)
	assert.Equal(t, want, contents(c.Visible()))
}

func TestRender_RemoveInsideRenderDoesNotDeadlock(t *testing.T) {
	src := newScriptedSource()
	var mu sync.Mutex
	var windows [][]Entry
	removed := false
	r := RendererFunc(func(window []Entry, remove RemoveFunc) {
		mu.Lock()
		windows = append(windows, window)
		first := !removed
		removed = true
		mu.Unlock()
		if first && len(window) > 0 {
			remove(window[0].Key)
		}
	})
	c, err := New(DefaultConfig(), src, r, clockwork.NewFakeClock(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	c.Start(context.Background())
	expectCall(t, src).reply <- reply{texts: []string{"a", "b"}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(windows) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b"}, contents(windows[1]))
}

func TestRedraw_RendersCurrentWindow(t *testing.T) {
	h := newHarness(t)
	h.client.Redraw()

	require.Equal(t, 1, h.renderer.count())
	assert.Empty(t, h.renderer.last())
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}
