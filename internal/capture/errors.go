// errors.go — Capture adapter for panics and surfaced errors.
// A Go process has no global uncaught-error hook, so this adapter provides
// the hooks a host wires in: a panic-recovering goroutine launcher, a
// deferred Recover helper, a CaptureError entry point, and a *log.Logger
// suitable for http.Server.ErrorLog. Every path checks the configured
// ignore list; suppressed events leave no trace. Write-through paths always
// delegate to the saved destination — they never synthesize an outcome.
package capture

import (
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/Basillica/eaglet/internal/policy"
	"github.com/Basillica/eaglet/internal/types"
)

// ErrorsAdapter routes panics and errors into the pipeline.
type ErrorsAdapter struct {
	mu        sync.Mutex
	sink      Sink
	ignore    *policy.IgnoreList
	installed bool
}

// NewErrorsAdapter returns an uninstalled errors adapter. The ignore list
// may be nil.
func NewErrorsAdapter(ignore *policy.IgnoreList) *ErrorsAdapter {
	return &ErrorsAdapter{ignore: ignore}
}

func (a *ErrorsAdapter) Name() string { return "errors" }

// Install wires the sink. There is no global to patch; the hooks below are
// live once a sink is present.
func (a *ErrorsAdapter) Install(sink Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed {
		return ErrAlreadyInstalled
	}
	a.sink = sink
	a.installed = true
	return nil
}

// Teardown detaches the sink. Idempotent.
func (a *ErrorsAdapter) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = nil
	a.installed = false
}

// SetIgnoreList swaps the suppression list (config update).
func (a *ErrorsAdapter) SetIgnoreList(ignore *policy.IgnoreList) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ignore = ignore
}

// Go launches fn in a goroutine with panic recovery. A recovered panic is
// captured at error level with its stack, then swallowed so the process
// survives; an ignored panic is swallowed without capture.
func (a *ErrorsAdapter) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.capturePanic(r, debug.Stack())
			}
		}()
		fn()
	}()
}

// Recover is for use in a defer inside host code. It captures an in-flight
// panic and swallows it. Hosts that need the panic to keep unwinding should
// re-panic after calling their own recover.
func (a *ErrorsAdapter) Recover() {
	if r := recover(); r != nil {
		a.capturePanic(r, debug.Stack())
	}
}

// CaptureError routes a surfaced error at error level, subject to the
// ignore list.
func (a *ErrorsAdapter) CaptureError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	sink, ignore := a.sink, a.ignore
	a.mu.Unlock()
	if sink == nil || ignore.MatchError(err) {
		return
	}
	a.emit(sink, err.Error(), fmt.Sprintf("%T", err), "", nil)
}

// capturePanic converts a recovered value into an error-level event. Values
// that are not errors ride in the reason field, matching the unhandled
// failure shape on the wire.
func (a *ErrorsAdapter) capturePanic(value any, stack []byte) {
	a.mu.Lock()
	sink, ignore := a.sink, a.ignore
	a.mu.Unlock()
	if sink == nil {
		return
	}

	var reason any
	var name, message string
	switch v := value.(type) {
	case error:
		if ignore.MatchError(v) {
			return
		}
		name = fmt.Sprintf("%T", v)
		message = v.Error()
	default:
		message = fmt.Sprintf("%v", v)
		if ignore.MatchString(message) {
			return
		}
		name = "panic"
		reason = v
	}
	a.emit(sink, message, name, string(stack), reason)
}

func (a *ErrorsAdapter) emit(sink Sink, message, name, stack string, reason any) {
	sink.AddBreadcrumb(types.Breadcrumb{
		Timestamp: now(),
		Type:      types.BreadcrumbError,
		Message:   truncate(message, consoleBreadcrumbLimit),
	})
	sink.CaptureLog(types.LevelError, []any{message}, &types.LogEntry{
		ErrorName: name,
		Stack:     stack,
		Reason:    reason,
	})
}

// ErrorLog returns a logger that captures each line at error level and
// writes it through to dest unchanged. Pass it to http.Server.ErrorLog (or
// similar) with dest set to the stream the server would otherwise use.
func (a *ErrorsAdapter) ErrorLog(dest *log.Logger) *log.Logger {
	return log.New(&errorLogWriter{adapter: a, dest: dest}, "", 0)
}

type errorLogWriter struct {
	adapter *ErrorsAdapter
	dest    *log.Logger
}

func (w *errorLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")

	w.adapter.mu.Lock()
	sink, ignore := w.adapter.sink, w.adapter.ignore
	w.adapter.mu.Unlock()

	if sink != nil && msg != "" && !ignore.MatchString(msg) {
		w.adapter.emit(sink, msg, "server", "", nil)
	}
	if w.dest != nil {
		w.dest.Print(msg)
	}
	return len(p), nil
}
