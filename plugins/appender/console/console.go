package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("console", NewConsoleAppenderFromConfig)
}

// Config represents console appender configuration
type Config struct {
	Target  string `yaml:"target,omitempty"`  // "stdout" or "stderr"
	Color   string `yaml:"color,omitempty"`   // "auto", "always" or "never"
	Newline bool   `yaml:"newline,omitempty"` // terminate payloads lacking a trailing newline
}

// NewConsoleAppenderFromConfig creates a console appender from configuration map
func NewConsoleAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewConsoleAppender(cfg)
}

// ANSI colors per level
var colors = map[core.Level]string{
	core.LevelTrace:    "\x1b[90m",
	core.LevelDebug:    "\x1b[36m",
	core.LevelInfo:     "",
	core.LevelNotice:   "\x1b[32m",
	core.LevelWarning:  "\x1b[33m",
	core.LevelError:    "\x1b[31m",
	core.LevelCritical: "\x1b[1;31m",
}

const reset = "\x1b[0m"

// ConsoleAppender writes payloads to stdout/stderr
type ConsoleAppender struct {
	writer io.Writer
	color  bool
	eol    bool
	mu     sync.Mutex
	closed bool
}

// NewConsoleAppender creates a new console appender
func NewConsoleAppender(config Config) (*ConsoleAppender, error) {
	// Set defaults
	if config.Target == "" {
		config.Target = "stdout"
	}
	if config.Color == "" {
		config.Color = "auto"
	}

	var file *os.File
	switch config.Target {
	case "stdout":
		file = os.Stdout
	case "stderr":
		file = os.Stderr
	default:
		return nil, fmt.Errorf("invalid target '%s', must be 'stdout' or 'stderr'", config.Target)
	}

	var color bool
	switch config.Color {
	case "auto":
		color = term.IsTerminal(int(file.Fd()))
	case "always":
		color = true
	case "never":
	default:
		return nil, fmt.Errorf("invalid color '%s', must be 'auto', 'always' or 'never'", config.Color)
	}

	return NewConsoleAppenderWithWriter(file, color, config.Newline), nil
}

// NewConsoleAppenderWithWriter creates a console appender on an arbitrary writer
func NewConsoleAppenderWithWriter(w io.Writer, color, newline bool) *ConsoleAppender {
	return &ConsoleAppender{writer: w, color: color, eol: newline}
}

func (c *ConsoleAppender) Name() string { return "console" }

// Append writes one payload
func (c *ConsoleAppender) Append(_ context.Context, payload []byte, entry core.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("console appender: %w", core.ErrClosed)
	}

	out := make([]byte, 0, len(payload)+16)
	prefix := ""
	if c.color {
		prefix = colors[entry.Level]
	}
	out = append(out, prefix...)
	body := payload
	trailing := false
	if n := len(body); prefix != "" && n > 0 && body[n-1] == '\n' {
		body, trailing = body[:n-1], true
	}
	out = append(out, body...)
	if prefix != "" {
		out = append(out, reset...)
	}
	if trailing || (c.eol && (len(payload) == 0 || payload[len(payload)-1] != '\n')) {
		out = append(out, '\n')
	}

	_, err := c.writer.Write(out)
	return err
}

// Close marks the appender closed. Standard streams stay open.
func (c *ConsoleAppender) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}
