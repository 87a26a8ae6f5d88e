package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/sentinel-ingest/internal/queue"
)

// terminal renders the visible window as a numbered list and maps typed
// numbers back to entry keys.
type terminal struct {
	out io.Writer

	mu     sync.Mutex
	window []queue.Entry
	remove queue.RemoveFunc
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) Render(window []queue.Entry, remove queue.RemoveFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = window
	t.remove = remove

	var b strings.Builder
	b.WriteString("\n")
	if len(window) == 0 {
		b.WriteString("  (waiting for posts)\n")
	}
	for i, e := range window {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, e.Content)
	}
	b.WriteString("tag> ")
	_, _ = io.WriteString(t.out, b.String())
}

// dismiss removes the entry shown at 1-based position pos.
func (t *terminal) dismiss(pos int) bool {
	t.mu.Lock()
	if pos < 1 || pos > len(t.window) || t.remove == nil {
		t.mu.Unlock()
		return false
	}
	key, remove := t.window[pos-1].Key, t.remove
	t.mu.Unlock()
	return remove(key)
}

// readCommands handles input lines until EOF, "q", or cancellation. Each
// line is a position in the visible window.
func (t *terminal) readCommands(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "q" || line == "quit":
			return nil
		}
		pos, err := strconv.Atoi(line)
		if err != nil || !t.dismiss(pos) {
			_, _ = fmt.Fprintf(t.out, "no entry %q\ntag> ", line)
		}
	}
	return scanner.Err()
}
