// console.go — Capture adapter for the standard library loggers.
// Wraps two process-wide ambients: the default `log` output writer and the
// default `slog` handler. Both wrappers delegate to the saved original with
// the payload unchanged, so host logging behavior is preserved. The default
// slog handler itself writes through the `log` writer; a delegation sentinel
// keeps one event from being captured by both wrappers.
package capture

import (
	"context"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Basillica/eaglet/internal/types"
)

const consoleBreadcrumbLimit = 200

// ConsoleAdapter captures from the stdlib log and slog defaults.
type ConsoleAdapter struct {
	mu        sync.Mutex
	sink      Sink
	installed bool

	prevWriter io.Writer
	prevFlags  int
	prevSlog   *slog.Logger

	// Incremented while a captured slog record is being delegated; the log
	// writer wrapper skips capture while it is set.
	delegating atomic.Int32
}

// NewConsoleAdapter returns an uninstalled console adapter.
func NewConsoleAdapter() *ConsoleAdapter { return &ConsoleAdapter{} }

func (a *ConsoleAdapter) Name() string { return "console" }

// Install saves the current log writer and slog default, then replaces both
// with capturing wrappers.
func (a *ConsoleAdapter) Install(sink Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed {
		return ErrAlreadyInstalled
	}
	a.sink = sink

	// Order matters: slog.SetDefault rewires the log package's output to a
	// bridge for non-default handlers, so the pre-install writer and flags
	// are saved first and the log writer wrapper is installed last, leaving
	// plain log.Print traffic on our wrapper.
	a.prevWriter = log.Writer()
	a.prevFlags = log.Flags()
	a.prevSlog = slog.Default()
	slog.SetDefault(slog.New(&slogCapture{adapter: a, next: a.prevSlog.Handler()}))
	log.SetOutput(&consoleWriter{adapter: a})
	log.SetFlags(a.prevFlags)

	a.installed = true
	return nil
}

// Teardown restores the saved writer and slog default. Idempotent.
func (a *ConsoleAdapter) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return
	}
	// Reverse of install: restore the slog default first (it may rewrite
	// the log output for custom handlers), then put the saved writer and
	// flags back so the end state matches the pre-install state exactly.
	slog.SetDefault(a.prevSlog)
	log.SetOutput(a.prevWriter)
	log.SetFlags(a.prevFlags)
	a.prevWriter = nil
	a.prevSlog = nil
	a.installed = false
}

// capture routes one console event into the sink with its breadcrumb.
func (a *ConsoleAdapter) capture(level types.Level, message string, data types.Context) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}
	var extra *types.LogEntry
	if len(data) > 0 {
		extra = &types.LogEntry{Context: data}
	}
	sink.AddBreadcrumb(types.Breadcrumb{
		Timestamp: now(),
		Type:      types.BreadcrumbConsole,
		Message:   truncate(message, consoleBreadcrumbLimit),
	})
	sink.CaptureLog(level, []any{message}, extra)
}

// ============================================
// log writer wrapper
// ============================================

type consoleWriter struct {
	adapter *ConsoleAdapter
}

// Write passes the line through to the saved writer first, then captures it
// at info unless a wrapped slog record is mid-delegation.
func (w *consoleWriter) Write(p []byte) (int, error) {
	w.adapter.mu.Lock()
	prev := w.adapter.prevWriter
	w.adapter.mu.Unlock()

	n := len(p)
	var err error
	if prev != nil {
		n, err = prev.Write(p)
	}

	if w.adapter.delegating.Load() == 0 {
		msg := strings.TrimRight(string(p), "\n")
		if msg != "" {
			w.adapter.capture(types.LevelInfo, msg, nil)
		}
	}
	return n, err
}

// ============================================
// slog handler wrapper
// ============================================

type slogCapture struct {
	adapter *ConsoleAdapter
	next    slog.Handler
}

// Enabled always reports true so every record reaches Handle for capture;
// the original handler's own filtering is honored at delegation time.
func (h *slogCapture) Enabled(_ context.Context, _ slog.Level) bool { return true }

// Handle captures the record, then delegates it unchanged to the saved
// handler when that handler would have accepted it.
func (h *slogCapture) Handle(ctx context.Context, r slog.Record) error {
	var data types.Context
	r.Attrs(func(attr slog.Attr) bool {
		if data == nil {
			data = types.Context{}
		}
		data[attr.Key] = attr.Value.Any()
		return true
	})
	h.adapter.capture(slogLevel(r.Level), r.Message, data)

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	h.adapter.delegating.Add(1)
	defer h.adapter.delegating.Add(-1)
	return h.next.Handle(ctx, r)
}

func (h *slogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &slogCapture{adapter: h.adapter, next: h.next.WithAttrs(attrs)}
}

func (h *slogCapture) WithGroup(name string) slog.Handler {
	return &slogCapture{adapter: h.adapter, next: h.next.WithGroup(name)}
}

// slogLevel maps an slog level onto the five wrapped severities. fatal and
// critical are never produced by wrapping.
func slogLevel(l slog.Level) types.Level {
	switch {
	case l < slog.LevelDebug:
		return types.LevelTrace
	case l < slog.LevelInfo:
		return types.LevelDebug
	case l < slog.LevelWarn:
		return types.LevelInfo
	case l < slog.LevelError:
		return types.LevelWarn
	default:
		return types.LevelError
	}
}
