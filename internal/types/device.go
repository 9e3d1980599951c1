// device.go — Host environment descriptor attached to enriched log entries.
// Field names keep the ingestion wire format so records from this collector
// land in the same columns as records from other runtimes. Fields whose
// source is unavailable on a given host are omitted, never null.
package types

// DeviceInfo describes the process host at enrichment time.
type DeviceInfo struct {
	OSName    string `json:"osName,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
	Family    string `json:"family,omitempty"`
	Model     string `json:"model,omitempty"`

	// UserAgent carries the runtime identification string
	// (e.g. "eaglet/1.0.0 go1.24 linux/amd64").
	UserAgent string `json:"userAgent,omitempty"`

	HardwareConcurrency int     `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        float64 `json:"deviceMemory,omitempty"`

	// Heap metrics sampled from the runtime. The limit is only present when
	// the host has set a soft memory limit.
	HeapSizeLimit uint64 `json:"jsHeapSizeLimit,omitempty"`
	TotalHeapSize uint64 `json:"totalJsHeapSize,omitempty"`
	UsedHeapSize  uint64 `json:"usedJsHeapSize,omitempty"`
}
