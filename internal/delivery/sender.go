// sender.go — Batch delivery to the ingestion endpoint.
// A cooperative single-flight sender: the sending flag is the sole
// serialization point, so overlapping flush requests collapse into one.
// Batches are read oldest-first from the durable spool when one is active,
// else spliced from the in-memory queue. Failed batches stay put (spool) or
// are re-prepended (memory) and retried with exponential backoff until the
// retry budget runs out or the circuit opens.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Basillica/eaglet/internal/diag"
	"github.com/Basillica/eaglet/internal/store"
	"github.com/Basillica/eaglet/internal/types"
)

const (
	// beaconMaxBytes caps the payload eligible for the shutdown fast path.
	beaconMaxBytes = 60 << 10

	beaconTimeout  = 2 * time.Second
	unloadTimeout  = 5 * time.Second
	requestTimeout = 10 * time.Second

	jitterCapMs = 100
)

// Spool is the sender's narrow view of the durable store.
type Spool interface {
	ReadOldest(n int) ([]types.LogEntry, error)
	DeleteByIDs(ids []string) error
}

// Options is the per-flush configuration snapshot.
type Options struct {
	DSN        string
	APIKey     string
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	Compress   bool

	OnSendSuccess func(entries []types.LogEntry)
	OnSendFailure func(err error, entries []types.LogEntry)
}

// Deps wires the sender to its collaborators. Options and Spool are
// getters so the sender always sees the current config snapshot and store
// routing.
type Deps struct {
	Options       func() Options
	Queue         *store.Queue
	Spool         func() Spool // nil result means no durable spool
	ClearFallback func()       // clears the fallback slot after success; may be nil
	Client        *http.Client
}

// Sender drains the pending records toward the DSN.
type Sender struct {
	deps    Deps
	breaker *Breaker
	randf   func() float64

	mu         sync.Mutex
	sending    bool
	closed     bool
	interval   time.Duration
	batchTimer *time.Timer
	retryTimer *time.Timer
}

// NewSender builds a sender with a fresh closed breaker.
func NewSender(deps Deps) *Sender {
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: requestTimeout}
	}
	return &Sender{
		deps:    deps,
		breaker: NewBreaker(),
		randf:   rand.Float64,
	}
}

// Breaker exposes the circuit breaker state for the coordinator.
func (s *Sender) Breaker() *Breaker { return s.breaker }

// ============================================
// Batch timer
// ============================================

// StartTimer (re)arms the repeating batch timer. Each tick flushes and then
// re-arms itself, so a slow flush never stacks ticks.
func (s *Sender) StartTimer(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.armLocked()
}

// StopTimer cancels the batch timer.
func (s *Sender) StopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = 0
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
}

func (s *Sender) armLocked() {
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	if s.closed || s.interval <= 0 {
		return
	}
	s.batchTimer = time.AfterFunc(s.interval, s.tick)
}

func (s *Sender) tick() {
	s.FlushQueue(0, false)
	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()
}

// Close stops all timers and rejects further flushes.
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()
	s.breaker.Stop()
}

// ============================================
// Flush
// ============================================

// FlushQueue attempts to deliver one batch. Preconditions: not already
// sending, circuit not open, DSN configured. retries counts attempts for
// this batch; unload selects the shutdown fast path.
func (s *Sender) FlushQueue(retries int, unload bool) {
	opts := s.deps.Options()
	if opts.DSN == "" {
		return
	}
	if !s.breaker.Allow() {
		return
	}

	s.mu.Lock()
	if s.sending || s.closed {
		s.mu.Unlock()
		return
	}
	s.sending = true
	s.mu.Unlock()

	batch, ids, fromSpool := s.selectBatch(opts.BatchSize)
	if len(batch) == 0 {
		s.setSending(false)
		return
	}

	err := s.send(batch, opts, unload)
	if err == nil {
		s.breaker.RecordSuccess()
		if opts.OnSendSuccess != nil {
			opts.OnSendSuccess(batch)
		}
		if fromSpool {
			if spool := s.deps.Spool(); spool != nil {
				if derr := spool.DeleteByIDs(ids); derr != nil {
					diag.L("delivery").Warnf("delete of delivered batch failed: %v", derr)
				}
			}
		} else if s.deps.ClearFallback != nil {
			s.deps.ClearFallback()
		}
		s.setSending(false)
		if s.hasMore() {
			go s.FlushQueue(0, false)
		}
		return
	}

	open := s.breaker.RecordFailure()
	if opts.OnSendFailure != nil {
		opts.OnSendFailure(err, batch)
	}
	if !fromSpool {
		s.deps.Queue.PrependAll(batch)
	}
	s.setSending(false)

	if open || unload {
		return
	}
	if retries < opts.MaxRetries {
		delay := backoffDelay(opts.RetryDelay, retries, s.randf)
		s.mu.Lock()
		if !s.closed {
			s.retryTimer = time.AfterFunc(delay, func() { s.FlushQueue(retries+1, false) })
		}
		s.mu.Unlock()
	}
	// Retry budget exhausted: the batch stays persisted and the next timer
	// tick picks it up.
}

func (s *Sender) setSending(v bool) {
	s.mu.Lock()
	s.sending = v
	s.mu.Unlock()
}

// selectBatch reads the oldest records available. The spool wins when
// active; otherwise the head of the in-memory queue is spliced out.
func (s *Sender) selectBatch(batchSize int) (batch []types.LogEntry, ids []string, fromSpool bool) {
	if batchSize <= 0 {
		batchSize = 1
	}
	if spool := s.deps.Spool(); spool != nil {
		entries, err := spool.ReadOldest(batchSize)
		if err == nil {
			ids = make([]string, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			return entries, ids, true
		}
		diag.L("delivery").Warnf("spool read failed, using in-memory queue: %v", err)
	}
	return s.deps.Queue.SpliceOldest(batchSize), nil, false
}

func (s *Sender) hasMore() bool {
	if spool := s.deps.Spool(); spool != nil {
		entries, err := spool.ReadOldest(1)
		if err == nil {
			return len(entries) > 0
		}
	}
	return s.deps.Queue.Len() > 0
}

// ============================================
// Transport
// ============================================

// send delivers one batch. On unload, small payloads take the beacon-style
// fast path; anything else is a short-lived POST detached from the
// collector lifetime.
func (s *Sender) send(batch []types.LogEntry, opts Options, unload bool) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	if unload && len(payload) < beaconMaxBytes {
		if s.beacon(payload, opts) {
			return nil
		}
	}

	body := payload
	encoding := ""
	if opts.Compress && !unload {
		if compressed, cerr := gzipBytes(payload); cerr == nil {
			body = compressed
			encoding = "gzip"
		}
	}

	timeout := requestTimeout
	if unload {
		timeout = unloadTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.DSN, bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setHeaders(req, opts)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := s.deps.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %s", resp.Status)
	}
	return nil
}

// beacon is the fire-and-forget shutdown send: a short-deadline POST whose
// completed write counts as queued. The response status is not consulted,
// matching best-effort beacon semantics.
func (s *Sender) beacon(payload []byte, opts Options) bool {
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.DSN, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	s.setHeaders(req, opts)

	resp, err := s.deps.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}

func (s *Sender) setHeaders(req *http.Request, opts Options) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Timestamp", types.Timestamp(time.Now()))
	if opts.APIKey != "" {
		req.Header.Set("X-Api-Key", opts.APIKey)
	}
}

// backoffDelay computes base · 2^retries plus up to 100 ms of jitter.
func backoffDelay(base time.Duration, retries int, randf func() float64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retries > 16 {
		retries = 16
	}
	jitter := time.Duration(randf()*jitterCapMs) * time.Millisecond
	return base*time.Duration(1<<retries) + jitter
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
