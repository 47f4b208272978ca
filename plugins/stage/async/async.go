package async

import (
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterTransform("async", NewAsyncFromConfig)
}

// Config represents async stage configuration
type Config struct {
	Workers     int                   `yaml:"workers"`     // pool size
	Nonblocking bool                  `yaml:"nonblocking"` // fail instead of waiting for a free worker
	Transform   core.PluginDefinition `yaml:"transform"`   // stage run on the pool
}

// NewAsyncFromConfig wraps a registered transform in an async stage
func NewAsyncFromConfig(config map[string]any) (any, error) {
	cfg := Config{Workers: 16}
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Transform.Type == "" {
		return nil, fmt.Errorf("async: transform type is required")
	}

	inner, err := core.CreateTransform(cfg.Transform.Type, cfg.Transform.Config)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(cfg.Nonblocking))
	if err != nil {
		return nil, fmt.Errorf("async: creating pool: %w", err)
	}
	return New(inner, pool), nil
}

// Async runs the transform of a stage on a worker pool. The pre-hook still
// runs on the caller's goroutine; the continuation is invoked from the
// worker.
type Async[In, Out any] struct {
	inner core.Sink[In, Out]
	pool  *ants.Pool
}

// New creates a new async stage. The stage owns pool and releases it on Close.
func New[In, Out any](inner core.Sink[In, Out], pool *ants.Pool) *Async[In, Out] {
	return &Async[In, Out]{inner: inner, pool: pool}
}

func (a *Async[In, Out]) Name() string { return "async(" + core.StageName(a.inner) + ")" }

// Deferred is always true: the continuation runs on a pool worker
func (a *Async[In, Out]) Deferred() bool { return true }

func (a *Async[In, Out]) BeforeSink(entry *core.Entry) {
	a.inner.BeforeSink(entry)
}

// Sink submits the inner transform. A rejected submission fails the entry
// synchronously.
func (a *Async[In, Out]) Sink(rec core.Record[In], next core.Next[Out]) {
	err := a.pool.Submit(func() {
		a.inner.Sink(rec, next)
	})
	if err != nil {
		next(core.Failed[Out](fmt.Errorf("async: %w", err)))
	}
}

// Close releases the pool and the inner stage
func (a *Async[In, Out]) Close() error {
	a.pool.Release()
	return core.CloseStage(a.inner)
}
