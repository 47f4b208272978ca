// Package buffer decouples a pipeline from a slow or flaky appender. Payloads
// are queued in memory, retried with exponential backoff and moved to a dead
// letter file once retries run out. Records that do not fit the queue, and
// those still retrying at shutdown, are persisted and replayed on restart.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("buffer", NewBufferFromConfig)
}

// Config defines buffer configuration
type Config struct {
	Name          string                `yaml:"name"`            // subdirectory and DLQ file name
	Dir           string                `yaml:"dir"`             // directory for buffer files
	MaxQueueSize  int                   `yaml:"max_queue_size"`  // records held in memory
	MaxRetries    int                   `yaml:"max_retries"`     // retries after the first attempt
	RetryInterval time.Duration         `yaml:"retry_interval"`  // initial backoff
	MaxRetryDelay time.Duration         `yaml:"max_retry_delay"` // backoff cap
	FlushInterval time.Duration         `yaml:"flush_interval"`  // how often the retry queue is persisted
	DLQEnabled    bool                  `yaml:"dlq_enabled"`
	DLQPath       string                `yaml:"dlq_path"`
	Appender      core.PluginDefinition `yaml:"appender"` // wrapped appender
}

// Validate validates the Config
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 100),
			validation.By(func(value any) error {
				if strings.ContainsAny(value.(string), `/\`) || value.(string) == ".." {
					return errors.New("must not contain path separators")
				}
				return nil
			})),
		validation.Field(&c.Dir, validation.Required, validation.Length(1, 500)),
		validation.Field(&c.MaxQueueSize, validation.Min(1), validation.Max(100000)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(100)),
		validation.Field(&c.RetryInterval, validation.Min(time.Millisecond), validation.Max(time.Hour)),
		validation.Field(&c.MaxRetryDelay, validation.Min(time.Millisecond), validation.Max(24*time.Hour)),
		validation.Field(&c.FlushInterval, validation.Min(time.Millisecond), validation.Max(time.Hour)),
		validation.Field(&c.DLQPath, validation.When(c.DLQEnabled, validation.Required), validation.Length(0, 500)),
	)
}

// DefaultConfig returns default buffer configuration
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		Dir:           "./data/buffers",
		MaxQueueSize:  1000,
		MaxRetries:    3,
		RetryInterval: 5 * time.Second,
		MaxRetryDelay: 60 * time.Second,
		FlushInterval: 10 * time.Second,
		DLQEnabled:    true,
		DLQPath:       "./data/dlq",
	}
}

// NewBufferFromConfig wraps a registered appender in a buffer
func NewBufferFromConfig(config map[string]any) (any, error) {
	cfg := DefaultConfig()
	cfg.Name = ""
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Appender.Type == "" {
		return nil, errors.New("buffer: appender type is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Appender.Type
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}

	inner, err := core.CreateAppender(cfg.Appender.Type, cfg.Appender.Config)
	if err != nil {
		return nil, err
	}
	b, err := New(inner, cfg)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return b, nil
}

// Record is a payload waiting for delivery. Only the event survives a
// restart; parameter bag values do not.
type Record struct {
	Payload     []byte     `json:"payload"`
	Event       core.Event `json:"event"`
	Attempts    int        `json:"attempts"`
	LastAttempt time.Time  `json:"last_attempt"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
}

// Stats tracks buffer statistics
type Stats struct {
	Enqueued  int64
	Delivered int64
	Retried   int64
	Persisted int64
	Failed    int64
	DLQ       int64
	Queued    int
	Retrying  int
}

// Buffer is an appender that delivers to another appender in the background
type Buffer struct {
	config  Config
	dir     string
	inner   core.Appender[[]byte]
	queue   chan *Record
	retry   []*Record
	retryMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	dlqFile *os.File
	dlqMu   sync.Mutex
	logger  *zap.Logger

	enqueued  atomic.Int64
	delivered atomic.Int64
	retried   atomic.Int64
	persisted atomic.Int64
	failed    atomic.Int64
	dlq       atomic.Int64
	spillSeq  atomic.Uint64

	closeMu sync.RWMutex
	closed  bool
}

// New creates a buffer in front of inner. The buffer owns inner and closes it.
func New(inner core.Appender[[]byte], config Config) (*Buffer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(config.Dir, config.Name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}

	b := &Buffer{
		config: config,
		dir:    dir,
		inner:  inner,
		queue:  make(chan *Record, config.MaxQueueSize),
		stopCh: make(chan struct{}),
		logger: zap.L().Named("buffer").With(zap.String("buffer", config.Name)),
	}

	if config.DLQEnabled {
		if err := os.MkdirAll(config.DLQPath, 0750); err != nil {
			return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
		}
		dlqPath := filepath.Join(config.DLQPath, config.Name+"-dlq.jsonl")
		file, err := os.OpenFile(dlqPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 - name validated
		if err != nil {
			return nil, fmt.Errorf("failed to open DLQ file: %w", err)
		}
		b.dlqFile = file
	}

	if err := b.loadPersisted(); err != nil {
		b.logger.Warn("loading persisted records failed", zap.Error(err))
	}

	b.wg.Add(2)
	go b.deliveryWorker()
	go b.retryWorker()

	b.logger.Debug("buffer started",
		zap.Int("queue", config.MaxQueueSize),
		zap.Int("retries", config.MaxRetries),
		zap.Bool("dlq", config.DLQEnabled))

	return b, nil
}

func (b *Buffer) Name() string { return "buffer(" + core.StageName(b.inner) + ")" }

// Append queues the payload. It only fails when the record could neither be
// queued nor persisted.
func (b *Buffer) Append(ctx context.Context, payload []byte, entry core.Snapshot) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		return fmt.Errorf("buffer: %w", core.ErrClosed)
	}

	ev := entry.Event
	ev.Metadata = entry.Fields()
	rec := &Record{
		Payload:    append([]byte(nil), payload...),
		Event:      ev,
		EnqueuedAt: time.Now(),
	}
	b.enqueued.Add(1)

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()

	select {
	case b.queue <- rec:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Queue is full or blocked, persist to disk
	if err := b.persist(rec); err != nil {
		b.failed.Add(1)
		return err
	}
	b.persisted.Add(1)
	return nil
}

func (b *Buffer) deliveryWorker() {
	defer b.wg.Done()

	for {
		select {
		case rec := <-b.queue:
			if err := b.deliver(rec); err != nil {
				b.logger.Debug("delivery failed", zap.Error(err), zap.Int("attempt", rec.Attempts))
				b.requeue(rec)
			} else {
				b.delivered.Add(1)
			}
		case <-b.stopCh:
			return
		}
	}
}

// retryTick keeps retries responsive for short intervals without spinning
func (b *Buffer) retryTick() time.Duration {
	tick := b.config.RetryInterval / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	return tick
}

func (b *Buffer) retryWorker() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.retryTick())
	defer ticker.Stop()
	flush := time.NewTicker(b.config.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ticker.C:
			b.processRetries()
		case <-flush.C:
			b.persistRetryQueue()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Buffer) processRetries() {
	b.retryMu.Lock()
	defer b.retryMu.Unlock()

	now := time.Now()
	remaining := b.retry[:0]

	for _, rec := range b.retry {
		if now.Before(rec.LastAttempt.Add(b.backoff(rec.Attempts))) {
			remaining = append(remaining, rec)
			continue
		}

		if err := b.deliver(rec); err != nil {
			if rec.Attempts > b.config.MaxRetries {
				b.logger.Warn("retries exhausted", zap.Error(err), zap.Int("attempts", rec.Attempts))
				b.sendToDLQ(rec)
			} else {
				remaining = append(remaining, rec)
			}
			continue
		}
		b.delivered.Add(1)
	}

	for i := len(remaining); i < len(b.retry); i++ {
		b.retry[i] = nil
	}
	b.retry = remaining
}

func (b *Buffer) deliver(rec *Record) error {
	rec.Attempts++
	rec.LastAttempt = time.Now()
	return b.inner.Append(context.Background(), rec.Payload, core.Snapshot{Event: rec.Event})
}

func (b *Buffer) requeue(rec *Record) {
	if rec.Attempts > b.config.MaxRetries {
		b.sendToDLQ(rec)
		return
	}

	b.retryMu.Lock()
	b.retry = append(b.retry, rec)
	b.retryMu.Unlock()
	b.retried.Add(1)
}

// backoff is RetryInterval * 2^(attempts-1), capped at MaxRetryDelay
func (b *Buffer) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 10 {
		attempts = 10
	}

	d := b.config.RetryInterval << uint(attempts-1) // #nosec G115 - attempts capped at 10
	if d > b.config.MaxRetryDelay {
		d = b.config.MaxRetryDelay
	}
	return d
}

func (b *Buffer) sendToDLQ(rec *Record) {
	if b.dlqFile == nil {
		b.failed.Add(1)
		b.logger.Warn("record dropped, DLQ disabled", zap.Int("attempts", rec.Attempts))
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		b.failed.Add(1)
		b.logger.Error("marshaling DLQ record", zap.Error(err))
		return
	}

	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	if _, err := b.dlqFile.Write(append(data, '\n')); err != nil {
		b.failed.Add(1)
		b.logger.Error("writing DLQ record", zap.Error(err))
		return
	}
	b.dlq.Add(1)
}

func (b *Buffer) persist(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	filename := filepath.Join(b.dir, fmt.Sprintf("buffer-%d-%d.jsonl", time.Now().UnixNano(), b.spillSeq.Add(1)))
	if err := os.WriteFile(filename, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write buffer file: %w", err)
	}
	return nil
}

func (b *Buffer) persistRetryQueue() {
	b.retryMu.Lock()
	defer b.retryMu.Unlock()

	filename := filepath.Join(b.dir, "retry-queue.jsonl")
	if len(b.retry) == 0 {
		_ = os.Remove(filename)
		return
	}

	file, err := os.Create(filename) // #nosec G304 - path built from validated config
	if err != nil {
		b.logger.Error("creating retry queue file", zap.Error(err))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	enc := json.NewEncoder(file)
	for _, rec := range b.retry {
		if err := enc.Encode(rec); err != nil {
			b.logger.Error("writing retry record", zap.Error(err))
		}
	}
}

// loadPersisted moves records left on disk into the retry queue
func (b *Buffer) loadPersisted() error {
	files, err := filepath.Glob(filepath.Join(b.dir, "*.jsonl"))
	if err != nil {
		return err
	}

	loaded := 0
	for _, filename := range files {
		data, err := os.ReadFile(filename) // #nosec G304 - globbed inside the buffer directory
		if err != nil {
			b.logger.Warn("reading buffer file", zap.String("file", filename), zap.Error(err))
			continue
		}

		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				b.logger.Warn("skipping corrupt record", zap.String("file", filename), zap.Error(err))
				continue
			}
			rec.Attempts = 0
			rec.LastAttempt = time.Time{}
			b.retry = append(b.retry, &rec)
			loaded++
		}
		_ = os.Remove(filename)
	}

	if loaded > 0 {
		b.logger.Info("replaying persisted records", zap.Int("records", loaded))
	}
	return nil
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() Stats {
	b.retryMu.Lock()
	retrying := len(b.retry)
	b.retryMu.Unlock()

	return Stats{
		Enqueued:  b.enqueued.Load(),
		Delivered: b.delivered.Load(),
		Retried:   b.retried.Load(),
		Persisted: b.persisted.Load(),
		Failed:    b.failed.Load(),
		DLQ:       b.dlq.Load(),
		Queued:    len(b.queue),
		Retrying:  retrying,
	}
}

// Close drains the queue once, persists what is still retrying and closes the
// wrapped appender
func (b *Buffer) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	b.closeMu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	deadline := time.After(10 * time.Second)
drain:
	for {
		select {
		case rec := <-b.queue:
			if err := b.deliver(rec); err != nil {
				b.requeue(rec)
			} else {
				b.delivered.Add(1)
			}
		case <-deadline:
			b.logger.Warn("drain timeout reached")
			break drain
		default:
			break drain
		}
	}

	b.persistRetryQueue()

	if b.dlqFile != nil {
		_ = b.dlqFile.Close()
	}

	stats := b.Stats()
	b.logger.Info("buffer closed",
		zap.Int64("enqueued", stats.Enqueued),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("retried", stats.Retried),
		zap.Int64("dlq", stats.DLQ),
		zap.Int64("failed", stats.Failed))

	return b.inner.Close()
}
