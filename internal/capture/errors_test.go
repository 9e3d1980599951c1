// errors_test.go — Panic capture, ignore suppression, error log
// write-through.
package capture

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/Basillica/eaglet/internal/policy"
	"github.com/Basillica/eaglet/internal/types"
)

func newInstalledErrorsAdapter(t *testing.T, ignore *policy.IgnoreList) (*ErrorsAdapter, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	a := NewErrorsAdapter(ignore)
	if err := a.Install(sink); err != nil {
		t.Fatalf("Install: %v", err)
	}
	t.Cleanup(a.Teardown)
	return a, sink
}

func TestErrorsAdapter_GoCapturesPanic(t *testing.T) {
	t.Parallel()
	a, sink := newInstalledErrorsAdapter(t, nil)

	a.Go(func() { panic(errors.New("worker exploded")) })
	sink.waitLogs(t, 1)

	got := sink.logAt(0)
	if got.level != types.LevelError {
		t.Fatalf("level = %s, want error", got.level)
	}
	if got.args[0] != "worker exploded" {
		t.Fatalf("message = %v", got.args[0])
	}
	if got.extra == nil || got.extra.ErrorName != "*errors.errorString" {
		t.Fatalf("extra = %+v", got.extra)
	}
	if !strings.Contains(got.extra.Stack, "goroutine") {
		t.Fatal("stack not captured")
	}
	if sink.crumbAt(0).Type != types.BreadcrumbError {
		t.Fatal("error breadcrumb missing")
	}
}

func TestErrorsAdapter_GoNonErrorPanicCarriesReason(t *testing.T) {
	t.Parallel()
	a, sink := newInstalledErrorsAdapter(t, nil)

	a.Go(func() { panic("string panic") })
	sink.waitLogs(t, 1)

	got := sink.logAt(0)
	if got.extra.ErrorName != "panic" {
		t.Fatalf("errorName = %q", got.extra.ErrorName)
	}
	if got.extra.Reason != "string panic" {
		t.Fatalf("reason = %v", got.extra.Reason)
	}
}

func TestErrorsAdapter_IgnoredPanicSuppressed(t *testing.T) {
	t.Parallel()
	ignore := &policy.IgnoreList{Substrings: []string{"expected shutdown"}}
	a, sink := newInstalledErrorsAdapter(t, ignore)

	done := make(chan struct{})
	a.Go(func() {
		defer close(done)
		panic("expected shutdown in progress")
	})
	<-done
	time.Sleep(50 * time.Millisecond) // let the recover handler finish

	if sink.logCount() != 0 {
		t.Fatalf("ignored panic was captured: %+v", sink.logAt(0))
	}
	if sink.crumbCount() != 0 {
		t.Fatal("ignored panic left a breadcrumb")
	}
}

func TestErrorsAdapter_RecoverSwallows(t *testing.T) {
	t.Parallel()
	a, sink := newInstalledErrorsAdapter(t, nil)

	func() {
		defer a.Recover()
		panic(errors.New("caught inline"))
	}()

	if sink.logCount() != 1 {
		t.Fatalf("captured %d logs, want 1", sink.logCount())
	}
}

func TestErrorsAdapter_CaptureError(t *testing.T) {
	t.Parallel()
	ignore := &policy.IgnoreList{
		Predicates: []func(error) bool{
			func(err error) bool { return errors.Is(err, errIgnorable) },
		},
	}
	a, sink := newInstalledErrorsAdapter(t, ignore)

	a.CaptureError(errIgnorable)
	a.CaptureError(nil)
	a.CaptureError(errors.New("real problem"))

	if sink.logCount() != 1 {
		t.Fatalf("captured %d logs, want 1", sink.logCount())
	}
	if sink.logAt(0).args[0] != "real problem" {
		t.Fatalf("message = %v", sink.logAt(0).args[0])
	}
}

var errIgnorable = errors.New("ignorable")

func TestErrorsAdapter_ErrorLogDelegates(t *testing.T) {
	t.Parallel()
	a, sink := newInstalledErrorsAdapter(t, &policy.IgnoreList{Substrings: []string{"TLS handshake"}})

	var buf bytes.Buffer
	dest := log.New(&buf, "", 0)
	errorLog := a.ErrorLog(dest)

	errorLog.Print("http: proxy error: context canceled")
	errorLog.Print("http: TLS handshake error from 10.0.0.1")

	// Both lines reach the destination; only the unsuppressed one is
	// captured.
	if got := buf.String(); !strings.Contains(got, "proxy error") || !strings.Contains(got, "TLS handshake") {
		t.Fatalf("destination missing lines: %q", got)
	}
	if sink.logCount() != 1 {
		t.Fatalf("captured %d logs, want 1", sink.logCount())
	}
	if got := sink.logAt(0); got.extra.ErrorName != "server" {
		t.Fatalf("errorName = %q", got.extra.ErrorName)
	}
}

func TestErrorsAdapter_TeardownDetaches(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	a := NewErrorsAdapter(nil)
	if err := a.Install(sink); err != nil {
		t.Fatalf("Install: %v", err)
	}
	a.Teardown()
	a.Teardown()

	a.CaptureError(errors.New("after teardown"))
	if sink.logCount() != 0 {
		t.Fatal("detached adapter still captured")
	}
}
