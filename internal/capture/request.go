// request.go — Capture adapter for inbound HTTP interactions.
// The host opts in by wrapping its handler with Middleware. Each request is
// captured at info with its route descriptor; bursts on the same route
// inside the debounce window are coalesced into the first event. Request
// bodies, query strings, and form values are never recorded.
package capture

import (
	"net/http"
	"sync"
	"time"

	"github.com/Basillica/eaglet/internal/types"
)

const interactionTextLimit = 100

// RequestAdapter captures inbound HTTP activity.
type RequestAdapter struct {
	mu        sync.Mutex
	sink      Sink
	window    time.Duration
	lastSeen  map[string]time.Time
	installed bool

	now func() time.Time
}

// NewRequestAdapter returns an uninstalled request adapter with the given
// debounce window.
func NewRequestAdapter(window time.Duration) *RequestAdapter {
	return &RequestAdapter{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (a *RequestAdapter) Name() string { return "request" }

// Install wires the sink; the patch point is the host's handler chain.
func (a *RequestAdapter) Install(sink Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed {
		return ErrAlreadyInstalled
	}
	a.sink = sink
	a.installed = true
	return nil
}

// Teardown detaches the sink; a still-mounted middleware becomes a
// passthrough. Idempotent.
func (a *RequestAdapter) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = nil
	a.installed = false
	a.lastSeen = make(map[string]time.Time)
}

// SetWindow updates the debounce window (config update).
func (a *RequestAdapter) SetWindow(window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = window
}

// Middleware wraps next, capturing one event per served request.
func (a *RequestAdapter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.observe(r, rec.status, time.Since(start))
	})
}

func (a *RequestAdapter) observe(r *http.Request, status int, duration time.Duration) {
	a.mu.Lock()
	sink := a.sink
	window := a.window
	key := r.Method + " " + r.URL.Path
	debounced := false
	if window > 0 {
		nowT := a.now()
		if last, ok := a.lastSeen[key]; ok && nowT.Sub(last) < window {
			debounced = true
		}
		a.lastSeen[key] = nowT
	}
	a.mu.Unlock()

	if sink == nil || debounced {
		return
	}

	element := types.Context{
		"tagName":     "http",
		"id":          r.Method,
		"textContent": truncate(r.URL.Path, interactionTextLimit),
	}
	sink.AddBreadcrumb(types.Breadcrumb{
		Timestamp: now(),
		Type:      types.BreadcrumbClick,
		Message:   truncate(key, consoleBreadcrumbLimit),
		Data:      types.Context{"status": status},
	})
	sink.CaptureLog(types.LevelInfo, []any{key}, &types.LogEntry{
		Context: types.Context{
			"element":    element,
			"statusCode": status,
			"durationMs": duration.Milliseconds(),
		},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
