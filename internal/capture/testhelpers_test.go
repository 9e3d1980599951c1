// testhelpers_test.go — Shared fake sink for adapter tests.
package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/Basillica/eaglet/internal/types"
)

type capturedLog struct {
	level types.Level
	args  []any
	extra *types.LogEntry
}

type fakeSink struct {
	mu     sync.Mutex
	logs   []capturedLog
	crumbs []types.Breadcrumb
}

func (s *fakeSink) CaptureLog(level types.Level, args []any, extra *types.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, capturedLog{level: level, args: args, extra: extra})
}

func (s *fakeSink) AddBreadcrumb(b types.Breadcrumb) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crumbs = append(s.crumbs, b)
}

func (s *fakeSink) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *fakeSink) logAt(i int) capturedLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[i]
}

func (s *fakeSink) crumbCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.crumbs)
}

func (s *fakeSink) crumbAt(i int) types.Breadcrumb {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crumbs[i]
}

// waitLogs polls until the sink holds at least n logs or the deadline hits.
func (s *fakeSink) waitLogs(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.logCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d captured logs, have %d", n, s.logCount())
}
