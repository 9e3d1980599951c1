// e2e_test.go — End-to-end scenarios through the public façade against a
// stubbed ingestion endpoint. Collectors claim process-wide patch points,
// so these tests run serially and always close their collector.
package eaglet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Basillica/eaglet/internal/delivery"
	"github.com/Basillica/eaglet/internal/policy"
	"github.com/Basillica/eaglet/internal/types"
)

// ingestStub records POST bodies and serves scripted statuses.
type ingestStub struct {
	mu       sync.Mutex
	statuses []int
	bodies   [][]byte
}

func (s *ingestStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		status := http.StatusOK
		if len(s.statuses) > 0 {
			status = s.statuses[0]
			if len(s.statuses) > 1 {
				s.statuses = s.statuses[1:]
			}
		}
		s.mu.Unlock()
		w.WriteHeader(status)
	})
}

func (s *ingestStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func (s *ingestStub) batch(t *testing.T, i int) []types.LogEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []types.LogEntry
	if err := json.Unmarshal(s.bodies[i], &batch); err != nil {
		t.Fatalf("body %d not a JSON array: %v", i, err)
	}
	return batch
}

// quietConfig is the e2e baseline: ambient captures off, timers out of the
// way, durable store in a per-test directory.
func quietConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableConsoleCapture = false
	cfg.EnableErrorCapture = false
	cfg.EnableNetworkCapture = false
	cfg.EnableRequestCapture = false
	cfg.EnableLifecycleCapture = false
	cfg.BatchInterval = time.Hour
	cfg.EnableLocalStorage = false
	cfg.IndexedDBName = filepath.Join(t.TempDir(), "db")
	return cfg
}

func startCollector(t *testing.T, cfg Config) *Collector {
	t.Helper()
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func poll(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScenario_HappyPath(t *testing.T) {
	stub := &ingestStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	var successMu sync.Mutex
	var delivered []types.LogEntry

	cfg := quietConfig(t)
	cfg.DSN = srv.URL
	cfg.BatchSize = 2
	cfg.OnSendSuccess = func(entries []types.LogEntry) {
		successMu.Lock()
		delivered = append(delivered, entries...)
		successMu.Unlock()
	}
	c := startCollector(t, cfg)

	c.Info("a")
	c.Info("b")

	poll(t, func() bool {
		successMu.Lock()
		defer successMu.Unlock()
		return len(delivered) == 2
	}, "success callback")

	if stub.calls() != 1 {
		t.Fatalf("POST count = %d, want 1", stub.calls())
	}
	batch := stub.batch(t, 0)
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	for i, want := range []string{"a", "b"} {
		if batch[i].Level != types.LevelInfo || batch[i].Message != want {
			t.Fatalf("batch[%d] = %s %q, want info %q", i, batch[i].Level, batch[i].Message, want)
		}
		if batch[i].Timestamp == "" || batch[i].Service != DefaultService {
			t.Fatalf("batch[%d] missing enrichment: %+v", i, batch[i])
		}
	}

	poll(t, func() bool { n, _ := c.durable.Count(); return n == 0 }, "durable store drain")
}

func TestScenario_RetryThenSucceed(t *testing.T) {
	stub := &ingestStub{statuses: []int{500, 500, 200}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	var mu sync.Mutex
	successes, failures := 0, 0

	cfg := quietConfig(t)
	cfg.DSN = srv.URL
	cfg.BatchSize = 1
	cfg.MaxRetries = 2
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.OnSendSuccess = func([]types.LogEntry) { mu.Lock(); successes++; mu.Unlock() }
	cfg.OnSendFailure = func(error, []types.LogEntry) { mu.Lock(); failures++; mu.Unlock() }
	c := startCollector(t, cfg)

	c.Info("retry me")

	poll(t, func() bool { mu.Lock(); defer mu.Unlock(); return successes == 1 }, "eventual success")

	if stub.calls() != 3 {
		t.Fatalf("POST count = %d, want 3", stub.calls())
	}
	id := stub.batch(t, 0)[0].ID
	for i := 1; i < 3; i++ {
		if got := stub.batch(t, i)[0].ID; got != id {
			t.Fatalf("attempt %d resent a different record: %s vs %s", i, got, id)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Fatalf("failure callbacks = %d, want 2", failures)
	}
}

func TestScenario_CircuitOpens(t *testing.T) {
	stub := &ingestStub{statuses: []int{500}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	cfg := quietConfig(t)
	cfg.DSN = srv.URL
	cfg.BatchSize = 100 // no threshold-triggered flush
	cfg.MaxRetries = 0
	c := startCollector(t, cfg)

	c.Info("stuck record")
	poll(t, func() bool { n, _ := c.durable.Count(); return n == 1 }, "record persisted")

	for i := 0; i < delivery.FailureThreshold; i++ {
		c.Flush()
	}
	if got := c.sender.Breaker().State(); got != delivery.BreakerOpen {
		t.Fatalf("breaker state = %s, want open after %d failed flushes", got, delivery.FailureThreshold)
	}

	calls := stub.calls()
	c.Flush()
	c.Flush()
	if stub.calls() != calls {
		t.Fatal("flushes while open still reached the endpoint")
	}
}

func TestScenario_MaskApplies(t *testing.T) {
	stub := &ingestStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	cfg := quietConfig(t)
	cfg.DSN = srv.URL
	cfg.BatchSize = 1
	cfg.MaskFields = []string{"password", "token"}
	done := make(chan struct{}, 1)
	cfg.OnSendSuccess = func([]types.LogEntry) { done <- struct{}{} }
	c := startCollector(t, cfg)

	c.Info("x", types.Context{
		"password": "p",
		"nested":   map[string]any{"token": "t", "keep": "k"},
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never succeeded")
	}

	entry := stub.batch(t, 0)[0]
	if entry.Context["password"] != policy.MaskReplacement {
		t.Fatalf("password = %v", entry.Context["password"])
	}
	nested := entry.Context["nested"].(map[string]any)
	if nested["token"] != policy.MaskReplacement || nested["keep"] != "k" {
		t.Fatalf("nested = %v", nested)
	}
}

func TestScenario_RateLimitDrops(t *testing.T) {
	cfg := quietConfig(t)
	cfg.MaxLogsPerMinute = 3
	c := startCollector(t, cfg)

	// Pin the limiter clock so the five events land in one minute.
	fixed := time.Date(2026, time.March, 1, 12, 0, 30, 0, time.UTC)
	c.limiter = policy.NewMinuteLimiter(3, func() time.Time { return fixed })

	for i := 0; i < 5; i++ {
		c.Info("burst")
	}

	n, err := c.durable.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("stored %d records, want exactly 3", n)
	}
}

func TestScenario_UnloadFlushesEverything(t *testing.T) {
	stub := &ingestStub{statuses: []int{204}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	cfg := quietConfig(t)
	cfg.DSN = srv.URL
	cfg.BatchSize = 50 // nothing flushes before the unload
	c := startCollector(t, cfg)

	for _, m := range []string{"q1", "q2", "q3", "q4"} {
		c.Info(m)
	}
	if stub.calls() != 0 {
		t.Fatal("records flushed before unload")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if stub.calls() != 1 {
		t.Fatalf("POST count = %d, want exactly one unload send", stub.calls())
	}
	batch := stub.batch(t, 0)
	if len(batch) != 4 {
		t.Fatalf("unload batch carried %d records, want 4", len(batch))
	}
	for _, e := range batch {
		if e.ID == "" {
			t.Fatal("unload send carried a record without an id")
		}
	}

	// The durable tier no longer holds the delivered ids.
	if n, _ := c.durable.Count(); n != 0 {
		t.Fatalf("durable store still holds %d records", n)
	}
}

func TestScenario_AtLeastOnceAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	// First process: endpoint down, records stay durable.
	cfg := quietConfig(t)
	cfg.IndexedDBName = dir
	cfg.DSN = "http://127.0.0.1:1/ingest"
	cfg.BatchSize = 100
	c := New(cfg)
	c.Info("survivor")
	poll(t, func() bool { n, _ := c.durable.Count(); return n == 1 }, "durable persist")
	_ = c.Close()

	// Second process: endpoint up, the record from the first life ships.
	stub := &ingestStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	cfg2 := quietConfig(t)
	cfg2.IndexedDBName = dir
	cfg2.DSN = srv.URL
	c2 := startCollector(t, cfg2)
	c2.Flush()

	if stub.calls() != 1 {
		t.Fatalf("POST count = %d, want 1", stub.calls())
	}
	batch := stub.batch(t, 0)
	if len(batch) != 1 || batch[0].Message != "survivor" {
		t.Fatalf("restart delivery = %+v", batch)
	}
}
