package file

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("file", NewFileAppenderFromConfig)
}

// Config represents file appender configuration
type Config struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this size, 0 for lumberjack's default
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"` // gzip rotated files
	Daily      bool   `yaml:"daily"`    // also rotate at local midnight
}

// NewFileAppenderFromConfig creates a file appender from configuration map
func NewFileAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewFileAppender(cfg)
}

// FileAppender writes payloads to a rotating file
type FileAppender struct {
	filePath string
	writer   *lumberjack.Logger
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewFileAppender creates a new file appender
func NewFileAppender(config Config) (*FileAppender, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f := &FileAppender{
		filePath: config.FilePath,
		writer: &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
			LocalTime:  true,
		},
		logger: zap.L().Named("file").With(zap.String("path", config.FilePath)),
		done:   make(chan struct{}),
	}

	if config.Daily {
		f.wg.Add(1)
		go f.rotateDaily()
	}

	return f, nil
}

func (f *FileAppender) Name() string { return "file" }

// Append writes the payload as-is
func (f *FileAppender) Append(_ context.Context, payload []byte, _ core.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("file appender: %w", core.ErrClosed)
	}
	if _, err := f.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// Rotate closes the current file and starts a new one
func (f *FileAppender) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return core.ErrClosed
	}
	return f.writer.Rotate()
}

func (f *FileAppender) rotateDaily() {
	defer f.wg.Done()

	for {
		timer := time.NewTimer(untilMidnight(time.Now()))
		select {
		case <-timer.C:
			if err := f.Rotate(); err != nil {
				f.logger.Warn("daily rotation failed", zap.Error(err))
			}
		case <-f.done:
			timer.Stop()
			return
		}
	}
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}

// Close closes the file appender
func (f *FileAppender) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()

	f.wg.Wait()
	return f.writer.Close()
}
