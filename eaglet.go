// eaglet.go — The collector façade.
// Wires the pipeline together: configuration snapshot, persistence tiers,
// breadcrumb ring, capture adapters, policy engines, and the delivery
// sender. The public API never returns an error for a dropped or failed
// record; delivery outcomes surface through the OnSendSuccess/OnSendFailure
// callbacks and internal diagnostics.
package eaglet

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Basillica/eaglet/internal/buffers"
	"github.com/Basillica/eaglet/internal/capture"
	"github.com/Basillica/eaglet/internal/delivery"
	"github.com/Basillica/eaglet/internal/policy"
	"github.com/Basillica/eaglet/internal/store"
	"github.com/Basillica/eaglet/internal/types"
)

// Collector is the public façade over the capture pipeline. Construct with
// New; always Close before process exit so patched globals are restored and
// pending records are flushed.
type Collector struct {
	cfg    atomic.Pointer[Config]
	masker atomic.Pointer[policy.Masker]

	queue    *store.Queue
	ring     *buffers.Ring[types.Breadcrumb]
	durable  *store.LevelStore
	fallback *store.FileStore

	sender   *delivery.Sender
	registry *capture.Registry
	sampler  *policy.Sampler
	limiter  *policy.MinuteLimiter

	console   *capture.ConsoleAdapter
	errorsAd  *capture.ErrorsAdapter
	network   *capture.NetworkAdapter
	request   *capture.RequestAdapter
	lifecycle *capture.LifecycleAdapter

	janitorStop chan struct{}
	janitorOn   bool
	janitorMu   sync.Mutex

	unloadOnce sync.Once
	closeOnce  sync.Once
	closed     atomic.Bool

	nowf func() time.Time
}

// New builds and starts a collector: merges cfg over the defaults,
// constructs the persistence tiers, installs the capture adapters, and
// starts the batch timer. A second collector in the same process comes up
// without ambient captures (refused, reported) but with the rest of the
// pipeline intact.
func New(cfg Config) *Collector {
	cfg.normalize()

	c := &Collector{
		queue: store.NewQueue(),
		ring:  buffers.NewRing[types.Breadcrumb](cfg.MaxBreadcrumbs),
		nowf:  time.Now,
	}
	c.cfg.Store(&cfg)
	c.masker.Store(policy.NewMasker(cfg.MaskFields))
	c.sampler = policy.NewSampler(cfg.SamplingRates, nil)
	c.limiter = policy.NewMinuteLimiter(cfg.MaxLogsPerMinute, nil)

	if cfg.EnableIndexedDB {
		c.durable = store.NewLevelStore(cfg.IndexedDBName, cfg.IndexedDBStoreName, cfg.IndexedDBVersion)
	}
	if cfg.EnableLocalStorage {
		c.fallback = store.NewFileStore(cfg.LocalStorageKey, cfg.MaxLocalStorageSize)
		if recovered := c.fallback.Load(); len(recovered) > 0 {
			c.queue.PrependAll(recovered)
			if c.durable != nil && c.durable.Ready() {
				if pending := c.queue.DrainAll(); len(pending) > 0 {
					if err := c.durable.AddLogs(pending); err != nil {
						c.queue.PrependAll(pending)
					}
				}
			}
		}
	}

	var clearFallback func()
	if c.fallback != nil {
		clearFallback = c.fallback.Clear
	}
	c.sender = delivery.NewSender(delivery.Deps{
		Options:       c.senderOptions,
		Queue:         c.queue,
		Spool:         c.spool,
		ClearFallback: clearFallback,
		// The sender gets its own transport so delivery traffic never rides
		// the patched default transport.
		Client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	})

	c.registry = capture.NewRegistry()
	if cfg.EnableConsoleCapture {
		c.console = capture.NewConsoleAdapter()
		c.registry.Register(c.console)
	}
	if cfg.EnableErrorCapture {
		c.errorsAd = capture.NewErrorsAdapter(errorIgnoreList(&cfg))
		c.registry.Register(c.errorsAd)
	}
	if cfg.EnableNetworkCapture {
		c.network = capture.NewNetworkAdapter(urlIgnoreList(&cfg))
		c.registry.Register(c.network)
	}
	if cfg.EnableRequestCapture {
		c.request = capture.NewRequestAdapter(cfg.BreadcrumbBufferInterval)
		c.registry.Register(c.request)
	}
	if cfg.EnableLifecycleCapture {
		c.lifecycle = capture.NewLifecycleAdapter(c.unload)
		c.registry.Register(c.lifecycle)
	}
	_ = c.registry.Install(c)

	c.sender.StartTimer(cfg.BatchInterval)
	c.setJanitor(cfg.MaxLogsPerMinute > 0)
	return c
}

// ============================================
// Public logging API
// ============================================

// Log captures one event at the given level with optional context.
func (c *Collector) Log(level types.Level, message string, ctx types.Context) {
	var extra *types.LogEntry
	if ctx != nil {
		extra = &types.LogEntry{Context: ctx}
	}
	c.CaptureLog(level, []any{message}, extra)
}

// Trace captures at trace level.
func (c *Collector) Trace(message string, ctx ...types.Context) {
	c.Log(types.LevelTrace, message, first(ctx))
}

// Debug captures at debug level.
func (c *Collector) Debug(message string, ctx ...types.Context) {
	c.Log(types.LevelDebug, message, first(ctx))
}

// Info captures at info level.
func (c *Collector) Info(message string, ctx ...types.Context) {
	c.Log(types.LevelInfo, message, first(ctx))
}

// Warn captures at warn level.
func (c *Collector) Warn(message string, ctx ...types.Context) {
	c.Log(types.LevelWarn, message, first(ctx))
}

// Fatal captures at fatal level. The process is not terminated; the level
// is a severity marker, not a control-flow statement.
func (c *Collector) Fatal(message string, ctx ...types.Context) {
	c.Log(types.LevelFatal, message, first(ctx))
}

// Critical captures at critical level.
func (c *Collector) Critical(message string, ctx ...types.Context) {
	c.Log(types.LevelCritical, message, first(ctx))
}

// Error captures at error level. v may be a plain string or a structured
// error value; the structured form carries its type name and the capture
// stack, and is checked against the ignoreErrors list before routing.
func (c *Collector) Error(v any, ctx ...types.Context) {
	extra := &types.LogEntry{Context: first(ctx)}
	var message string

	switch val := v.(type) {
	case error:
		if errorIgnoreList(c.config()).MatchError(val) {
			return
		}
		message = val.Error()
		extra.ErrorName = fmt.Sprintf("%T", val)
		extra.Stack = string(debug.Stack())
	case string:
		message = val
	default:
		message = stringify(val)
		extra.Reason = val
	}
	c.CaptureLog(types.LevelError, []any{message}, extra)
}

// ============================================
// Capture hooks
// ============================================

// Middleware wraps an http.Handler with inbound interaction capture. A
// passthrough when request capture is disabled.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c.request == nil {
		return next
	}
	return c.request.Middleware(next)
}

// Go launches fn with panic capture. Falls back to a plain goroutine when
// error capture is disabled.
func (c *Collector) Go(fn func()) {
	if c.errorsAd == nil {
		go fn()
		return
	}
	c.errorsAd.Go(fn)
}

// Recover captures and swallows an in-flight panic; use in a defer.
func (c *Collector) Recover() {
	r := recover()
	if r == nil || c.errorsAd == nil {
		return
	}
	// Re-raise inside a frame whose deferred call is the adapter's Recover,
	// so its recover() sees the panic and captures it.
	func() {
		defer c.errorsAd.Recover()
		panic(r)
	}()
}

// CaptureError routes a surfaced error through the error adapter.
func (c *Collector) CaptureError(err error) {
	if c.errorsAd != nil {
		c.errorsAd.CaptureError(err)
	}
}

// ServerErrorLog returns a logger for http.Server.ErrorLog that captures
// each line and writes it through to dest.
func (c *Collector) ServerErrorLog(dest *log.Logger) *log.Logger {
	if c.errorsAd == nil {
		return dest
	}
	return c.errorsAd.ErrorLog(dest)
}

// ============================================
// Lifecycle
// ============================================

// Flush requests an immediate delivery attempt.
func (c *Collector) Flush() {
	c.sender.FlushQueue(0, false)
}

// UpdateConfig applies mutate to a copy of the current configuration and
// swaps the new snapshot in atomically. Timers and policy engines whose
// inputs changed are rebuilt; everything else keeps running undisturbed.
func (c *Collector) UpdateConfig(mutate func(*Config)) {
	if mutate == nil {
		return
	}
	old := c.config()
	next := *old
	mutate(&next)
	next.normalize()
	c.cfg.Store(&next)

	c.masker.Store(policy.NewMasker(next.MaskFields))
	c.sampler.SetRates(next.SamplingRates)

	if next.BatchInterval != old.BatchInterval {
		c.sender.StartTimer(next.BatchInterval)
	}
	if next.MaxLogsPerMinute != old.MaxLogsPerMinute {
		c.limiter.SetLimit(next.MaxLogsPerMinute)
		c.setJanitor(next.MaxLogsPerMinute > 0)
	}
	if next.MaxBreadcrumbs != old.MaxBreadcrumbs {
		c.ring.SetCapacity(next.MaxBreadcrumbs)
	}
	if c.errorsAd != nil {
		c.errorsAd.SetIgnoreList(errorIgnoreList(&next))
	}
	if c.network != nil {
		c.network.SetIgnoreList(urlIgnoreList(&next))
	}
	if c.request != nil && next.BreadcrumbBufferInterval != old.BreadcrumbBufferInterval {
		c.request.SetWindow(next.BreadcrumbBufferInterval)
	}
}

// Close tears the collector down: restores every patched global, stops the
// timers, persists and flushes pending records through the shutdown path,
// and releases the durable store. Safe to call more than once.
func (c *Collector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.registry.Teardown()
		c.unload()
		c.closed.Store(true)
		c.sender.StopTimer()
		c.sender.Close()
		c.setJanitor(false)
		if c.durable != nil {
			err = c.durable.Close()
		}
	})
	return err
}

// unload is the page-unload analog: assign ids to anything still in
// memory, persist it, and attempt the beacon-style flush. Runs at most
// once, from either a termination signal or Close.
func (c *Collector) unload() {
	c.unloadOnce.Do(func() {
		c.queue.AssignIDs(store.NewID)
		if c.durable != nil && c.durable.Ready() {
			if pending := c.queue.DrainAll(); len(pending) > 0 {
				if err := c.durable.AddLogs(pending); err != nil {
					c.queue.PrependAll(pending)
				}
			}
		} else if c.fallback != nil {
			c.fallback.Save(c.queue.Snapshot())
		}
		c.sender.FlushQueue(0, true)
	})
}

// ============================================
// Wiring
// ============================================

func (c *Collector) config() *Config { return c.cfg.Load() }

func (c *Collector) senderOptions() delivery.Options {
	cfg := c.config()
	return delivery.Options{
		DSN:           cfg.DSN,
		APIKey:        cfg.APIKey,
		BatchSize:     cfg.BatchSize,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		Compress:      cfg.EnableCompression,
		OnSendSuccess: cfg.OnSendSuccess,
		OnSendFailure: cfg.OnSendFailure,
	}
}

func (c *Collector) spool() delivery.Spool {
	if c.durable != nil && c.durable.Ready() {
		return c.durable
	}
	return nil
}

// setJanitor starts or stops the per-minute purge of stale rate-limit
// counters.
func (c *Collector) setJanitor(on bool) {
	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if on == c.janitorOn {
		return
	}
	if !on {
		close(c.janitorStop)
		c.janitorStop = nil
		c.janitorOn = false
		return
	}
	c.janitorStop = make(chan struct{})
	c.janitorOn = true
	stop := c.janitorStop
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.limiter.Purge()
			case <-stop:
				return
			}
		}
	}()
}

func errorIgnoreList(cfg *Config) *policy.IgnoreList {
	return &policy.IgnoreList{
		Substrings: cfg.IgnoreErrors,
		Regexps:    cfg.IgnoreErrorRegexps,
		Predicates: cfg.IgnoreErrorPredicates,
	}
}

// urlIgnoreList always suppresses the DSN so the collector never observes
// its own delivery requests.
func urlIgnoreList(cfg *Config) *policy.IgnoreList {
	subs := cfg.IgnoreURLs
	if cfg.DSN != "" {
		subs = append(append([]string{}, subs...), cfg.DSN)
	}
	return &policy.IgnoreList{Substrings: subs, Regexps: cfg.IgnoreURLRegexps}
}

func first(ctx []types.Context) types.Context {
	if len(ctx) == 0 {
		return nil
	}
	return ctx[0]
}
