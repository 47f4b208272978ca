package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventHandler receives events from a logging facade
type EventHandler interface {
	Log(ctx context.Context, ev Event) error
	Close() error
}

// HandlerStats counts pipeline outcomes
type HandlerStats struct {
	Passed  uint64
	Dropped uint64
	Failed  uint64
}

// Handler drives one assembled pipeline and commits its output to an appender
type Handler[T any] struct {
	name     string
	label    string
	pipeline AnySink[Void, T]
	stages   Sink[Void, T]
	appender Appender[T]
	logger   *zap.Logger

	passed  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	closed bool
	mu     sync.RWMutex // Log holds the read lock; Close waits for in-flight calls
}

// HandlerOption configures a Handler
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	label string
}

// WithDefaultLabel sets the label used for events that carry none
func WithDefaultLabel(label string) HandlerOption {
	return func(o *handlerOptions) { o.label = label }
}

// NewHandler creates a new handler
func NewHandler[T any](name string, pipeline Sink[Void, T], appender Appender[T], opts ...HandlerOption) *Handler[T] {
	var o handlerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Handler[T]{
		name:     name,
		label:    o.label,
		pipeline: Erase(pipeline),
		stages:   pipeline,
		appender: appender,
		logger:   zap.L().Named("handler").With(zap.String("pipeline", name)),
	}
}

// Name returns the pipeline name
func (h *Handler[T]) Name() string { return h.name }

// Log runs the pipeline for ev. Dropped events return nil; failures and
// appender errors are returned unchanged.
func (h *Handler[T]) Log(ctx context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	if ev.Label == "" {
		ev.Label = h.label
	}
	entry := NewEntryFromEvent(ev)

	out, err := Execute[T](ctx, h.pipeline, entry)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", h.name, err)
	}

	switch {
	case out.IsDropped():
		h.dropped.Add(1)
		return nil
	case out.IsFailed():
		h.failed.Add(1)
		h.logger.Debug("pipeline failed", zap.Error(out.Err()))
		return out.Err()
	}

	if err := h.appender.Append(ctx, out.Value(), entry.Snapshot()); err != nil {
		h.failed.Add(1)
		return err
	}
	h.passed.Add(1)
	return nil
}

// Stats returns outcome counters. Appender errors count as failed.
func (h *Handler[T]) Stats() HandlerStats {
	return HandlerStats{
		Passed:  h.passed.Load(),
		Dropped: h.dropped.Load(),
		Failed:  h.failed.Load(),
	}
}

// Close waits for in-flight Log calls, then releases the pipeline stages and
// closes the appender. Subsequent Log calls return ErrClosed.
func (h *Handler[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	err := CloseStage(h.stages)
	if cerr := h.appender.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("closing appender for %s: %w", h.name, cerr))
	}
	return err
}

// Multiplex sends every event to several handlers
type Multiplex struct {
	handlers []EventHandler
}

// NewMultiplex creates a new multiplex
func NewMultiplex(handlers ...EventHandler) *Multiplex {
	return &Multiplex{handlers: handlers}
}

// Handlers returns the wrapped handlers
func (m *Multiplex) Handlers() []EventHandler {
	return m.handlers
}

// Log delivers ev to every handler and combines their errors
func (m *Multiplex) Log(ctx context.Context, ev Event) error {
	var err error
	for _, h := range m.handlers {
		err = multierr.Append(err, h.Log(ctx, ev))
	}
	return err
}

// Close closes every handler
func (m *Multiplex) Close() error {
	var err error
	for _, h := range m.handlers {
		err = multierr.Append(err, h.Close())
	}
	return err
}
