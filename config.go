// config.go — Collector configuration: defaults, normalization, YAML loading.
// The live configuration is an immutable snapshot swapped atomically on
// update; nothing mutates a snapshot in place. Durations are native
// time.Duration in Go code; the YAML surface keeps the wire-facing
// millisecond keys.
package eaglet

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Basillica/eaglet/internal/types"
)

// Config controls every pipeline policy. The zero value of a numeric or
// string field means "use the default", except MaxRetries,
// MaxLogsPerMinute and BreadcrumbBufferInterval, where zero is kept as
// given; boolean toggles are taken as-is, so start from DefaultConfig when
// flipping individual captures off.
type Config struct {
	// DSN is the absolute URL of the ingestion endpoint. Required for
	// delivery; with no DSN the collector captures and persists only.
	DSN string
	// APIKey is sent verbatim as the X-Api-Key header.
	APIKey string
	// Service is the logical source name stamped on every record.
	Service string

	BatchSize     int
	BatchInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration

	EnableConsoleCapture   bool
	EnableErrorCapture     bool
	EnableNetworkCapture   bool
	EnableRequestCapture   bool
	EnableLifecycleCapture bool

	// LogLevel is the minimum severity accepted by the pipeline.
	LogLevel types.Level

	// Network suppression: literal substrings and compiled patterns. The
	// DSN itself is always suppressed so the collector never captures its
	// own delivery traffic.
	IgnoreURLs       []string
	IgnoreURLRegexps []*regexp.Regexp

	// Error suppression: substrings, patterns, and predicates.
	IgnoreErrors          []string
	IgnoreErrorRegexps    []*regexp.Regexp
	IgnoreErrorPredicates []func(error) bool

	// MaskFields lists key names whose values are replaced in outgoing
	// payloads, recursively through nested mappings.
	MaskFields []string

	// SamplingRates maps level → acceptance probability in [0,1].
	// Unlisted levels are always accepted.
	SamplingRates map[types.Level]float64

	// MaxLogsPerMinute caps accepted records per calendar minute. 0 means
	// unlimited.
	MaxLogsPerMinute int

	BeforeSend       func(*types.LogEntry) *types.LogEntry
	BeforeBreadcrumb func(*types.Breadcrumb) *types.Breadcrumb
	OnSendSuccess    func(entries []types.LogEntry)
	OnSendFailure    func(err error, entries []types.LogEntry)
	GetGlobalContext func() types.Context
	GetUserContext   func() types.Context

	// User identifies the principal attached to every record.
	User *types.UserInfo

	EnableLocalStorage  bool
	LocalStorageKey     string
	MaxLocalStorageSize int64

	EnableIndexedDB    bool
	IndexedDBName      string
	IndexedDBStoreName string
	IndexedDBVersion   int

	MaxBreadcrumbs           int
	BreadcrumbBufferInterval time.Duration

	EnableCompression bool
}

// Defaults.
const (
	DefaultService        = "frontend-app"
	DefaultBatchSize      = 50
	DefaultBatchInterval  = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxBreadcrumbs = 20
	DefaultDebounceWindow = 300 * time.Millisecond

	DefaultLocalStorageKey     = "eaglet_logs.json"
	DefaultMaxLocalStorageSize = 1 << 20

	DefaultIndexedDBName      = "eaglet_logs"
	DefaultIndexedDBStoreName = "logs"
	DefaultIndexedDBVersion   = 1
)

// DefaultConfig returns the baseline configuration: all captures on, all
// levels accepted, both persistence tiers enabled.
func DefaultConfig() Config {
	return Config{
		Service:       DefaultService,
		BatchSize:     DefaultBatchSize,
		BatchInterval: DefaultBatchInterval,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,

		EnableConsoleCapture:   true,
		EnableErrorCapture:     true,
		EnableNetworkCapture:   true,
		EnableRequestCapture:   true,
		EnableLifecycleCapture: true,

		LogLevel: types.LevelTrace,

		EnableLocalStorage:  true,
		LocalStorageKey:     DefaultLocalStorageKey,
		MaxLocalStorageSize: DefaultMaxLocalStorageSize,

		EnableIndexedDB:    true,
		IndexedDBName:      DefaultIndexedDBName,
		IndexedDBStoreName: DefaultIndexedDBStoreName,
		IndexedDBVersion:   DefaultIndexedDBVersion,

		MaxBreadcrumbs:           DefaultMaxBreadcrumbs,
		BreadcrumbBufferInterval: DefaultDebounceWindow,
	}
}

// normalize fills defaults for zero-valued settings the pipeline cannot run
// without.
func (c *Config) normalize() {
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.LogLevel == "" {
		c.LogLevel = types.LevelTrace
	}
	if c.MaxBreadcrumbs <= 0 {
		c.MaxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	if c.BreadcrumbBufferInterval < 0 {
		c.BreadcrumbBufferInterval = 0
	}
	if c.LocalStorageKey == "" {
		c.LocalStorageKey = DefaultLocalStorageKey
	}
	if c.MaxLocalStorageSize <= 0 {
		c.MaxLocalStorageSize = DefaultMaxLocalStorageSize
	}
	if c.IndexedDBName == "" {
		c.IndexedDBName = DefaultIndexedDBName
	}
	if c.IndexedDBStoreName == "" {
		c.IndexedDBStoreName = DefaultIndexedDBStoreName
	}
	if c.IndexedDBVersion <= 0 {
		c.IndexedDBVersion = DefaultIndexedDBVersion
	}
}

// ============================================
// YAML surface
// ============================================

// fileConfig mirrors the deployment-config keys. Interval keys carry
// milliseconds, matching the wire-facing names.
type fileConfig struct {
	DSN     string `yaml:"dsn"`
	APIKey  string `yaml:"apiKey"`
	Service string `yaml:"service"`

	BatchSize       int   `yaml:"batchSize"`
	BatchIntervalMs int64 `yaml:"batchInterval"`
	MaxRetries      *int  `yaml:"maxRetries"`
	RetryDelayMs    int64 `yaml:"retryDelayMs"`

	EnableConsoleCapture   *bool `yaml:"enableConsoleCapture"`
	EnableErrorCapture     *bool `yaml:"enableErrorCapture"`
	EnableNetworkCapture   *bool `yaml:"enableNetworkCapture"`
	EnableRequestCapture   *bool `yaml:"enableRequestCapture"`
	EnableLifecycleCapture *bool `yaml:"enableLifecycleCapture"`

	LogLevel string `yaml:"logLevel"`

	IgnoreURLs   []string `yaml:"ignoreUrls"`
	IgnoreErrors []string `yaml:"ignoreErrors"`
	MaskFields   []string `yaml:"maskFields"`

	SamplingRates    map[string]float64 `yaml:"samplingRates"`
	MaxLogsPerMinute *int               `yaml:"maxLogsPerMinute"`

	EnableLocalStorage  *bool  `yaml:"enableLocalStorage"`
	LocalStorageKey     string `yaml:"localStorageKey"`
	MaxLocalStorageSize int64  `yaml:"maxLocalStorageSize"`

	EnableIndexedDB    *bool  `yaml:"enableIndexedDB"`
	IndexedDBName      string `yaml:"indexedDBName"`
	IndexedDBStoreName string `yaml:"indexedDBStoreName"`
	IndexedDBVersion   int    `yaml:"indexedDBVersion"`

	MaxBreadcrumbs             *int  `yaml:"maxBreadcrumbs"`
	BreadcrumbBufferIntervalMs int64 `yaml:"breadcrumbBufferInterval"`

	EnableCompression *bool `yaml:"enableCompression"`
}

// LoadConfigFile reads a YAML deployment config and overlays it on the
// defaults. Callback and pattern settings have no file form; set them in
// code after loading.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if fc.DSN != "" {
		cfg.DSN = fc.DSN
	}
	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.Service != "" {
		cfg.Service = fc.Service
	}
	if fc.BatchSize > 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.BatchIntervalMs > 0 {
		cfg.BatchInterval = time.Duration(fc.BatchIntervalMs) * time.Millisecond
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(fc.RetryDelayMs) * time.Millisecond
	}
	if fc.EnableConsoleCapture != nil {
		cfg.EnableConsoleCapture = *fc.EnableConsoleCapture
	}
	if fc.EnableErrorCapture != nil {
		cfg.EnableErrorCapture = *fc.EnableErrorCapture
	}
	if fc.EnableNetworkCapture != nil {
		cfg.EnableNetworkCapture = *fc.EnableNetworkCapture
	}
	if fc.EnableRequestCapture != nil {
		cfg.EnableRequestCapture = *fc.EnableRequestCapture
	}
	if fc.EnableLifecycleCapture != nil {
		cfg.EnableLifecycleCapture = *fc.EnableLifecycleCapture
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = types.Level(fc.LogLevel)
	}
	if len(fc.IgnoreURLs) > 0 {
		cfg.IgnoreURLs = fc.IgnoreURLs
	}
	if len(fc.IgnoreErrors) > 0 {
		cfg.IgnoreErrors = fc.IgnoreErrors
	}
	if len(fc.MaskFields) > 0 {
		cfg.MaskFields = fc.MaskFields
	}
	if len(fc.SamplingRates) > 0 {
		cfg.SamplingRates = make(map[types.Level]float64, len(fc.SamplingRates))
		for level, rate := range fc.SamplingRates {
			cfg.SamplingRates[types.Level(level)] = rate
		}
	}
	if fc.MaxLogsPerMinute != nil {
		cfg.MaxLogsPerMinute = *fc.MaxLogsPerMinute
	}
	if fc.EnableLocalStorage != nil {
		cfg.EnableLocalStorage = *fc.EnableLocalStorage
	}
	if fc.LocalStorageKey != "" {
		cfg.LocalStorageKey = fc.LocalStorageKey
	}
	if fc.MaxLocalStorageSize > 0 {
		cfg.MaxLocalStorageSize = fc.MaxLocalStorageSize
	}
	if fc.EnableIndexedDB != nil {
		cfg.EnableIndexedDB = *fc.EnableIndexedDB
	}
	if fc.IndexedDBName != "" {
		cfg.IndexedDBName = fc.IndexedDBName
	}
	if fc.IndexedDBStoreName != "" {
		cfg.IndexedDBStoreName = fc.IndexedDBStoreName
	}
	if fc.IndexedDBVersion > 0 {
		cfg.IndexedDBVersion = fc.IndexedDBVersion
	}
	if fc.MaxBreadcrumbs != nil {
		cfg.MaxBreadcrumbs = *fc.MaxBreadcrumbs
	}
	if fc.BreadcrumbBufferIntervalMs > 0 {
		cfg.BreadcrumbBufferInterval = time.Duration(fc.BreadcrumbBufferIntervalMs) * time.Millisecond
	}
	if fc.EnableCompression != nil {
		cfg.EnableCompression = *fc.EnableCompression
	}

	cfg.normalize()
	return cfg, nil
}
