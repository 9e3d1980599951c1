// enrich.go — The single entry point for accepted events.
// Every capture path — adapters and the public API alike — funnels into
// CaptureLog, which applies the acceptance policies in order (level gate,
// sampling, rate limit), builds the enriched record, masks it, runs the
// caller's transform, persists it, and triggers delivery at the batch
// threshold. The timestamp is assigned here and never later; the id is
// assigned when the record is written to the durable store, or at shutdown.
package eaglet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Basillica/eaglet/internal/diag"
	"github.com/Basillica/eaglet/internal/types"
)

// CaptureLog routes one raw event through the acceptance pipeline. extra
// carries adapter-supplied attribute groups (error, network, context) and
// may be nil.
func (c *Collector) CaptureLog(level types.Level, args []any, extra *types.LogEntry) {
	if c.closed.Load() {
		return
	}
	cfg := c.config()

	// 1. Level gate.
	if level.Rank() < cfg.LogLevel.Rank() {
		return
	}
	// 2. Sampling.
	if !c.sampler.Accept(level) {
		return
	}
	// 3. Rate limit.
	if !c.limiter.Allow() {
		diag.L("policy").Debugf("rate limit exceeded (%d/min), dropping %s record", c.limiter.Limit(), level)
		return
	}

	// 4. Build the record.
	entry := c.buildEntry(cfg, level, args, extra)
	if entry.Message == "" && len(entry.Context) == 0 {
		// The ingestion endpoint rejects empty messages; nothing to say and
		// nothing attached means nothing worth shipping.
		return
	}

	// 5. Masking.
	if masker := c.masker.Load(); masker != nil && !masker.Empty() {
		entry = *masker.MaskEntry(&entry)
	}

	// 6. Caller transform.
	if cfg.BeforeSend != nil {
		replaced := cfg.BeforeSend(&entry)
		if replaced == nil {
			return
		}
		entry = *replaced
	}

	// 7. Enqueue and persist.
	c.persist(entry)

	// 8. Threshold-triggered delivery.
	if c.pendingCount() >= cfg.BatchSize {
		go c.sender.FlushQueue(0, false)
	}
}

// AddBreadcrumb records a user or system event on the ring, subject to the
// caller's beforeBreadcrumb transform. This is both the public method and
// the adapters' sink.
func (c *Collector) AddBreadcrumb(b types.Breadcrumb) {
	if c.closed.Load() {
		return
	}
	if b.Timestamp == "" {
		b.Timestamp = types.Timestamp(c.nowf())
	}
	if b.Type == "" {
		b.Type = types.BreadcrumbCustom
	}
	if hook := c.config().BeforeBreadcrumb; hook != nil {
		replaced := hook(&b)
		if replaced == nil {
			return
		}
		b = *replaced
	}
	c.ring.Add(b)
}

// buildEntry assembles the enriched record.
func (c *Collector) buildEntry(cfg *Config, level types.Level, args []any, extra *types.LogEntry) types.LogEntry {
	entry := types.LogEntry{
		Level:     level,
		Message:   formatArgs(args),
		Timestamp: types.Timestamp(c.nowf()),
		Service:   cfg.Service,
	}
	if extra != nil {
		entry.Context = extra.Context
		entry.ErrorName = extra.ErrorName
		entry.Stack = extra.Stack
		entry.Reason = extra.Reason
		entry.RequestMethod = extra.RequestMethod
		entry.RequestURL = extra.RequestURL
		entry.StatusCode = extra.StatusCode
		entry.StatusText = extra.StatusText
		entry.DurationMs = extra.DurationMs
		entry.ResponseSize = extra.ResponseSize
		entry.ErrorMessage = extra.ErrorMessage
	}
	if cfg.GetGlobalContext != nil {
		entry.GlobalContext = cfg.GetGlobalContext()
	}
	if cfg.GetUserContext != nil {
		entry.UserContext = cfg.GetUserContext()
	}
	if cfg.User != nil {
		u := *cfg.User
		entry.User = &u
	}
	entry.Device = collectDeviceInfo()
	entry.Breadcrumbs = c.ring.Snapshot()
	return entry
}

// persist lands the record in the active tier. With the durable store, the
// whole pending queue is copied in and memory cleared on success; a failed
// durable write re-prepends the batch and tries the fallback slot. With
// only the fallback, the queue snapshot is mirrored into the slot.
func (c *Collector) persist(entry types.LogEntry) {
	c.queue.Append(entry)

	if c.durable != nil && c.durable.Ready() {
		pending := c.queue.DrainAll()
		if err := c.durable.AddLogs(pending); err != nil {
			c.queue.PrependAll(pending)
			diag.L("store").Warnf("durable write failed: %v", err)
			if c.fallback != nil {
				c.fallback.Save(c.queue.Snapshot())
			}
		}
		return
	}
	if c.fallback != nil {
		c.fallback.Save(c.queue.Snapshot())
	}
}

// pendingCount is the number of records awaiting delivery in the active
// tier.
func (c *Collector) pendingCount() int {
	if c.durable != nil && c.durable.Ready() {
		if n, err := c.durable.Count(); err == nil {
			return n + c.queue.Len()
		}
	}
	return c.queue.Len()
}

// formatArgs joins arguments with single spaces, stringifying non-strings
// with a safe JSON fallback.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, stringify(arg))
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	case time.Time:
		return types.Timestamp(val)
	default:
		if data, err := json.Marshal(val); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", val)
	}
}
