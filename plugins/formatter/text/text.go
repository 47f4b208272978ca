package text

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterFormatter("text", NewTextFormatterFromConfig)
}

// DefaultTimeFormat is used when no layout is configured
const DefaultTimeFormat = "2006-01-02 15:04:05.000"

// Time holds the timestamp captured by the pre-hook
var Time = core.NewKey[string]("text.time")

// Config represents text formatter configuration
type Config struct {
	TimeFormat string `yaml:"time_format"` // Go time layout
	UTC        bool   `yaml:"utc"`
}

// NewTextFormatterFromConfig creates a text formatter producing bytes
func NewTextFormatterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	opts := []Option{WithTimeFormat(cfg.TimeFormat)}
	if cfg.UTC {
		opts = append(opts, WithClock(func() time.Time { return time.Now().UTC() }))
	}
	return core.Compose[core.Void, string, []byte](NewTextFormatter(opts...), core.Bytes()), nil
}

// Option configures a TextFormatter
type Option func(*TextFormatter)

// WithTimeFormat sets the timestamp layout
func WithTimeFormat(layout string) Option {
	return func(f *TextFormatter) {
		if layout != "" {
			f.timeFormat = layout
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(f *TextFormatter) { f.now = now }
}

// TextFormatter renders one human readable line per entry:
//
//	<time> <L>/<label>: <file>:<line>.<function> <message>
//
// followed by an indented "k=v, k=v" line when the entry has fields.
type TextFormatter struct {
	timeFormat string
	now        func() time.Time
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(opts ...Option) *TextFormatter {
	f := &TextFormatter{
		timeFormat: DefaultTimeFormat,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *TextFormatter) Name() string { return "text" }

// BeforeSink captures the current time
func (f *TextFormatter) BeforeSink(entry *core.Entry) {
	Time.Set(entry, f.now().Format(f.timeFormat))
}

// Sink renders the entry. Entries without a captured time are dropped.
func (f *TextFormatter) Sink(rec core.Record[core.Void], next core.Next[string]) {
	core.Emit("text", rec, next, f.format)
}

func (f *TextFormatter) format(rec core.Record[core.Void]) (string, bool, error) {
	ts, ok := Time.Get(rec.Entry)
	if !ok {
		return "", false, nil
	}
	e := rec.Entry

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(ts)
	buf.WriteByte(' ')
	buf.WriteString(e.Level.Initial())
	buf.WriteByte('/')
	buf.WriteString(e.Label)
	buf.WriteString(": ")
	buf.WriteString(filepath.Base(e.File))
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(e.Line))
	buf.WriteByte('.')
	buf.WriteString(e.Function)
	buf.WriteByte(' ')
	buf.WriteString(e.Message)

	if fields := e.Fields(); len(fields) > 0 {
		buf.WriteString("\n    ")
		buf.WriteString(fields.String())
	}

	return buf.String(), true, nil
}
