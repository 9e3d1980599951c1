// network.go — Capture adapter for outbound HTTP.
// Patches the two process-wide client ambients, http.DefaultTransport and
// http.DefaultClient's transport, with a timing wrapper that delegates to
// the saved RoundTripper with the request unchanged. A context sentinel
// prevents double capture when a request crosses both patched objects.
// Requests whose URL matches the ignore list produce neither a log nor a
// breadcrumb.
package capture

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Basillica/eaglet/internal/policy"
	"github.com/Basillica/eaglet/internal/types"
)

type captureMark struct{}

// NetworkAdapter patches the default HTTP client ambients.
type NetworkAdapter struct {
	mu        sync.Mutex
	sink      Sink
	ignore    *policy.IgnoreList
	installed bool

	prevTransport       http.RoundTripper
	prevClientTransport http.RoundTripper
	patchedClient       bool
}

// NewNetworkAdapter returns an uninstalled network adapter. The ignore list
// may be nil.
func NewNetworkAdapter(ignore *policy.IgnoreList) *NetworkAdapter {
	return &NetworkAdapter{ignore: ignore}
}

func (a *NetworkAdapter) Name() string { return "network" }

// Install saves and replaces the default transport, and the default
// client's transport when it carries its own.
func (a *NetworkAdapter) Install(sink Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed {
		return ErrAlreadyInstalled
	}
	a.sink = sink

	a.prevTransport = http.DefaultTransport
	http.DefaultTransport = &timedTransport{adapter: a, next: a.prevTransport}

	if t := http.DefaultClient.Transport; t != nil {
		a.prevClientTransport = t
		http.DefaultClient.Transport = &timedTransport{adapter: a, next: t}
		a.patchedClient = true
	}

	a.installed = true
	return nil
}

// Teardown restores the saved transports. Idempotent.
func (a *NetworkAdapter) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return
	}
	http.DefaultTransport = a.prevTransport
	if a.patchedClient {
		http.DefaultClient.Transport = a.prevClientTransport
	}
	a.prevTransport = nil
	a.prevClientTransport = nil
	a.patchedClient = false
	a.installed = false
}

// SetIgnoreList swaps the URL suppression list (config update).
func (a *NetworkAdapter) SetIgnoreList(ignore *policy.IgnoreList) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ignore = ignore
}

type timedTransport struct {
	adapter *NetworkAdapter
	next    http.RoundTripper
}

// RoundTrip delegates the request unchanged and emits one event per
// completed request: info on any HTTP response, error on transport failure.
func (t *timedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Context().Value(captureMark{}) != nil {
		return t.next.RoundTrip(req)
	}
	req = req.WithContext(context.WithValue(req.Context(), captureMark{}, true))

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	t.adapter.observe(req, resp, err, duration)
	return resp, err
}

func (a *NetworkAdapter) observe(req *http.Request, resp *http.Response, err error, duration time.Duration) {
	a.mu.Lock()
	sink, ignore := a.sink, a.ignore
	a.mu.Unlock()
	if sink == nil {
		return
	}

	url := req.URL.String()
	if ignore.MatchString(url) {
		return
	}

	extra := &types.LogEntry{
		RequestMethod: req.Method,
		RequestURL:    url,
		DurationMs:    duration.Milliseconds(),
	}
	level := types.LevelInfo
	message := req.Method + " " + url
	data := types.Context{"method": req.Method, "url": url}

	if err != nil {
		level = types.LevelError
		extra.ErrorMessage = err.Error()
		message += " failed: " + err.Error()
		data["error"] = err.Error()
	} else {
		extra.StatusCode = resp.StatusCode
		extra.StatusText = http.StatusText(resp.StatusCode)
		if resp.ContentLength >= 0 {
			extra.ResponseSize = resp.ContentLength
		}
		message += " " + resp.Status
		data["statusCode"] = resp.StatusCode
	}

	sink.AddBreadcrumb(types.Breadcrumb{
		Timestamp: now(),
		Type:      types.BreadcrumbXHR,
		Message:   truncate(message, consoleBreadcrumbLimit),
		Data:      data,
	})
	sink.CaptureLog(level, []any{message}, extra)
}
