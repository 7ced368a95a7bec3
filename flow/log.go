package flow

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/xraph/stride/state"
)

// logBuffer collects run log entries up to a cap. Entries past the cap
// are dropped and counted; a run that logs in a tight loop must not
// balloon the job payload.
type logBuffer struct {
	mu      sync.Mutex
	entries []state.LogEntry
	max     int
	dropped int
}

func newLogBuffer(max int) *logBuffer {
	return &logBuffer{max: max}
}

func (b *logBuffer) append(e state.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.max {
		b.dropped++

		return
	}

	b.entries = append(b.entries, e)
}

// drain returns the buffered entries, appending a marker entry when
// records were dropped.
func (b *logBuffer) drain() []state.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.entries
	b.entries = nil

	if b.dropped > 0 {
		entries = append(entries, state.LogEntry{
			Level:   slog.LevelWarn.String(),
			Message: "log buffer full, records dropped",
			Attrs:   map[string]string{"dropped": strconv.Itoa(b.dropped)},
		})
		b.dropped = 0
	}

	return entries
}

// bufferHandler is a slog.Handler that tees records into a logBuffer
// and forwards them to the next handler.
type bufferHandler struct {
	next slog.Handler
	buf  *logBuffer
	base []slog.Attr
}

func newBufferHandler(next slog.Handler, buf *logBuffer) slog.Handler {
	return &bufferHandler{next: next, buf: buf}
}

func (h *bufferHandler) Enabled(context.Context, slog.Level) bool {
	// Always enabled so the buffer sees every record, even levels the
	// live handler filters out.
	return true
}

func (h *bufferHandler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make(map[string]string, rec.NumAttrs()+len(h.base))
	for _, a := range h.base {
		attrs[a.Key] = a.Value.String()
	}

	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()

		return true
	})

	h.buf.append(state.LogEntry{
		Time:    rec.Time.UTC(),
		Level:   rec.Level.String(),
		Message: rec.Message,
		Attrs:   attrs,
	})

	if h.next.Enabled(ctx, rec.Level) {
		return h.next.Handle(ctx, rec)
	}

	return nil
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	base := make([]slog.Attr, 0, len(h.base)+len(attrs))
	base = append(base, h.base...)
	base = append(base, attrs...)

	return &bufferHandler{next: h.next.WithAttrs(attrs), buf: h.buf, base: base}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{next: h.next.WithGroup(name), buf: h.buf, base: h.base}
}
