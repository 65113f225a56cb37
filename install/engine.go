package install

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/flashpack/flashpack/config"
	"github.com/flashpack/flashpack/fallback"
	"github.com/flashpack/flashpack/internal/compressutil"
	"github.com/flashpack/flashpack/progress"
	"github.com/flashpack/flashpack/registryfetch"
	"github.com/flashpack/flashpack/store"
	"github.com/flashpack/flashpack/workerpool"
)

// Engine owns every shared, process-wide resource the orchestrator drives
// a single install through: the two on-disk stores, the registry fetcher,
// and the offline fallback resolver (the worker pool is built per install
// from its Concurrency and retry policy). One Engine value is
// constructed at program start-up and passed explicitly into every call
// site; its sub-components are reached through its fields and methods,
// never through package-level globals.
type Engine struct {
	Config config.Configuration

	Packages *store.PackageStore
	Trees    *store.TreeStore
	Fetcher  *registryfetch.Fetcher
	Fallback *fallback.Resolver

	Progress progress.Sink
	Hooks    HookSink

	retryPolicy workerpool.Policy
}

// Option customizes a newly constructed Engine.
type Option func(*Engine)

// WithProgress overrides the default no-op progress sink.
func WithProgress(sink progress.Sink) Option {
	return func(e *Engine) { e.Progress = sink }
}

// WithHooks overrides the default no-op hook sink.
func WithHooks(sink HookSink) Option {
	return func(e *Engine) { e.Hooks = sink }
}

// WithHTTPClient overrides the registry fetcher's HTTP client, e.g. to
// inject a client with custom transport settings in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.Fetcher = registryfetch.New(e.Config.RegistryURL, client)
	}
}

// WithRetryPolicy overrides the orchestrator's per-package retry policy.
// Unlike the rest of Configuration this isn't exposed as a YAML field —
// the configuration surface doesn't expose retry knobs as YAML fields, so
// these default to MaxRetries=2, the worker pool's own documented default.
func WithRetryPolicy(policy workerpool.Policy) Option {
	return func(e *Engine) { e.retryPolicy = policy }
}

// defaultRetryPolicy matches the worker pool's own documented default
// (max_retries=2) plus a small inter-attempt delay so a transient 5xx
// isn't retried in a hot loop.
func defaultRetryPolicy() workerpool.Policy {
	return workerpool.Policy{MaxRetries: 2, RetryDelay: 200 * time.Millisecond}
}

// NewEngine validates cfg and opens the package store and tree store
// beneath cfg.StoreRoot. Each store gets its own subdirectory so their
// independent metadata.json indices never collide on disk.
func NewEngine(ctx context.Context, cfg config.Configuration, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storeOpts := store.Options{
		CompressionFormat:  compressutil.Format(cfg.Compression.Format),
		CompressionLevel:   cfg.Compression.Level,
		DisableCompression: !cfg.Compression.Enabled,
		Integrity:          cfg.Integrity,
		Hardlink:           cfg.Hardlink,
		CacheSize:          1024,
	}

	packages, err := store.NewPackageStore(ctx, filepath.Join(cfg.StoreRoot, "packages"), storeOpts)
	if err != nil {
		return nil, err
	}
	trees, err := store.NewTreeStore(ctx, filepath.Join(cfg.StoreRoot, "trees"), storeOpts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Config:      cfg,
		Packages:    packages,
		Trees:       trees,
		Fetcher:     registryfetch.New(cfg.RegistryURL, nil),
		Progress:    progress.NoOp{},
		Hooks:       NoOpHooks{},
		retryPolicy: defaultRetryPolicy(),
	}
	e.Fallback = &fallback.Resolver{
		Cache:    packageCacheAdapter{store: packages},
		Snapshot: snapshotAdapter{pathOverride: cfg.SnapshotPath},
		Local:    localAdapter{},
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Concurrency resolves the pool size the orchestrator should use: the
// configured value, or the worker pool's own CPU-derived default when
// unset.
func (e *Engine) Concurrency() int {
	if e.Config.Concurrency > 0 {
		return e.Config.Concurrency
	}
	return workerpool.DefaultConcurrency()
}
