// registry.go — Adapter registry with explicit install/uninstall.
// Every ambient source is wrapped by an adapter that saves the original on
// install, delegates to it from its wrapper, and restores it on teardown.
// The registry installs each adapter exactly once; a second install while
// patches are active is refused so a second collector in the same process is
// detectable instead of silently double-capturing. Teardown is idempotent
// and runs in reverse install order.
package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/Basillica/eaglet/internal/diag"
	"github.com/Basillica/eaglet/internal/types"
)

// Sink receives every event an adapter captures. CaptureLog routes into the
// enrichment pipeline; AddBreadcrumb appends to the breadcrumb ring.
type Sink interface {
	CaptureLog(level types.Level, args []any, extra *types.LogEntry)
	AddBreadcrumb(b types.Breadcrumb)
}

// Adapter wraps one ambient source. Install patches the source and must be
// reversible; Teardown restores the saved original and must be safe to call
// any number of times.
type Adapter interface {
	Name() string
	Install(sink Sink) error
	Teardown()
}

// ErrAlreadyInstalled is returned when Install is called while a previous
// install is still active.
var ErrAlreadyInstalled = errors.New("capture adapters already installed")

// ambientClaim guards the process-wide patch points across registries. The
// patched globals are shared by the whole process, so a second collector in
// the same process must be refused, not silently double-patched.
var ambientClaim struct {
	mu      sync.Mutex
	claimed bool
}

func claimAmbients() bool {
	ambientClaim.mu.Lock()
	defer ambientClaim.mu.Unlock()
	if ambientClaim.claimed {
		return false
	}
	ambientClaim.claimed = true
	return true
}

func releaseAmbients() {
	ambientClaim.mu.Lock()
	defer ambientClaim.mu.Unlock()
	ambientClaim.claimed = false
}

// Registry owns the adapter set and its lifecycle.
type Registry struct {
	mu        sync.Mutex
	adapters  []Adapter
	installed []Adapter
	active    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds an adapter. Registration order is install order.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// Install patches every registered adapter. An adapter whose Install fails
// (its ambient is missing or already claimed) is skipped with a diagnostic;
// installation continues with the rest.
func (r *Registry) Install(sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		diag.L("capture").Warn("second adapter install refused; tear down the active collector first")
		return ErrAlreadyInstalled
	}
	if !claimAmbients() {
		diag.L("capture").Warn("another collector holds the ambient patches; refusing to double-capture")
		return ErrAlreadyInstalled
	}
	for _, a := range r.adapters {
		if err := a.Install(sink); err != nil {
			diag.L("capture").Warnf("adapter %s skipped: %v", a.Name(), err)
			continue
		}
		r.installed = append(r.installed, a)
	}
	r.active = true
	return nil
}

// Teardown restores all saved originals in reverse install order. Safe to
// call repeatedly and when nothing is installed.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.installed) - 1; i >= 0; i-- {
		r.installed[i].Teardown()
	}
	r.installed = nil
	if r.active {
		releaseAmbients()
	}
	r.active = false
}

// Active reports whether an install is in effect.
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// now returns the wire-format timestamp adapters stamp on breadcrumbs.
func now() string { return types.Timestamp(time.Now()) }

// truncate shortens s to max bytes for breadcrumb messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
