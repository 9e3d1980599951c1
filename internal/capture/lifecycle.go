// lifecycle.go — Capture adapter for process lifecycle transitions.
// Emits an event when capture starts and on SIGHUP, and invokes the
// coordinator's shutdown path on SIGTERM/SIGINT so pending records are
// persisted and flushed before the host exits. Signal observation uses
// Notify only — the host's own signal handling and disposition are left
// untouched.
package capture

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Basillica/eaglet/internal/types"
)

// LifecycleAdapter watches process lifecycle signals.
type LifecycleAdapter struct {
	mu         sync.Mutex
	sink       Sink
	onShutdown func()
	sigCh      chan os.Signal
	done       chan struct{}
	installed  bool
}

// NewLifecycleAdapter returns an uninstalled lifecycle adapter. onShutdown
// runs once per termination signal received while installed.
func NewLifecycleAdapter(onShutdown func()) *LifecycleAdapter {
	return &LifecycleAdapter{onShutdown: onShutdown}
}

func (a *LifecycleAdapter) Name() string { return "lifecycle" }

// Install emits the start event and begins watching signals.
func (a *LifecycleAdapter) Install(sink Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed {
		return ErrAlreadyInstalled
	}
	a.sink = sink
	a.sigCh = make(chan os.Signal, 4)
	a.done = make(chan struct{})
	signal.Notify(a.sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go a.watch(a.sigCh, a.done)
	a.installed = true

	a.emit(sink, "process started", types.Context{"pid": os.Getpid()})
	return nil
}

// Teardown stops signal observation. Idempotent.
func (a *LifecycleAdapter) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return
	}
	signal.Stop(a.sigCh)
	close(a.done)
	a.sink = nil
	a.installed = false
}

func (a *LifecycleAdapter) watch(sigCh chan os.Signal, done chan struct{}) {
	for {
		select {
		case sig := <-sigCh:
			a.handleSignal(sig)
		case <-done:
			return
		}
	}
}

func (a *LifecycleAdapter) handleSignal(sig os.Signal) {
	a.mu.Lock()
	sink := a.sink
	onShutdown := a.onShutdown
	a.mu.Unlock()
	if sink == nil {
		return
	}

	switch sig {
	case syscall.SIGHUP:
		a.emit(sink, "reload signal received", types.Context{"signal": sig.String()})
	case syscall.SIGTERM, syscall.SIGINT:
		a.emit(sink, "shutdown signal received", types.Context{"signal": sig.String()})
		if onShutdown != nil {
			onShutdown()
		}
	}
}

func (a *LifecycleAdapter) emit(sink Sink, message string, data types.Context) {
	sink.AddBreadcrumb(types.Breadcrumb{
		Timestamp: now(),
		Type:      types.BreadcrumbNavigation,
		Message:   message,
		Data:      data,
	})
	sink.CaptureLog(types.LevelInfo, []any{message}, &types.LogEntry{Context: data})
}
