package json

import (
	"encoding/json"
	"time"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterFormatter("json", NewJSONFormatterFromConfig)
}

// Timestamp holds the time captured by the pre-hook
var Timestamp = core.NewKey[time.Time]("json.timestamp")

// Config represents JSON formatter configuration
type Config struct {
	TimeFormat string `yaml:"time_format"` // Go time layout, RFC3339Nano by default
}

// NewJSONFormatterFromConfig creates a JSON formatter from configuration map
func NewJSONFormatterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewJSONFormatter(cfg), nil
}

// Document is the JSON shape of an entry
type Document struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Label     string         `json:"label,omitempty"`
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Function  string         `json:"function,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JSONFormatter renders each entry as one JSON object
type JSONFormatter struct {
	timeFormat string
	now        func() time.Time
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(config Config) *JSONFormatter {
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339Nano
	}
	return &JSONFormatter{
		timeFormat: config.TimeFormat,
		now:        time.Now,
	}
}

func (f *JSONFormatter) Name() string { return "json" }

// BeforeSink captures the current time
func (f *JSONFormatter) BeforeSink(entry *core.Entry) {
	Timestamp.Set(entry, f.now())
}

// Sink encodes the entry. Entries without a captured time are dropped.
func (f *JSONFormatter) Sink(rec core.Record[core.Void], next core.Next[[]byte]) {
	core.Emit("json", rec, next, f.format)
}

func (f *JSONFormatter) format(rec core.Record[core.Void]) ([]byte, bool, error) {
	ts, ok := Timestamp.Get(rec.Entry)
	if !ok {
		return nil, false, nil
	}
	e := rec.Entry

	doc := Document{
		Timestamp: ts.Format(f.timeFormat),
		Level:     e.Level.String(),
		Label:     e.Label,
		Message:   e.Message,
		Source:    e.Source,
		File:      e.File,
		Line:      e.Line,
		Function:  e.Function,
	}
	if fields := e.Fields(); len(fields) > 0 {
		doc.Metadata = fields.Map()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
