package json

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterFilter("json", NewJsonFilterFromConfig)
}

// Config represents JSON filter configuration
type Config struct {
	Field        string `yaml:"field"`         // Field to parse (default: "message")
	Flatten      bool   `yaml:"flatten"`       // Flatten nested objects
	IgnoreErrors bool   `yaml:"ignore_errors"` // Keep entries whose field is not JSON
}

// NewJsonFilterFromConfig creates a JSON filter from configuration map
func NewJsonFilterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewJsonFilter[[]byte](cfg), nil
}

// Parsed records whether the pre-hook could parse the configured field
var Parsed = core.NewKey[bool]("json.parsed")

// JsonFilter parses JSON from the message or a metadata field during the
// pre-hook phase and adds the decoded fields to the entry
type JsonFilter[P any] struct {
	config Config
}

// NewJsonFilter creates a new JSON filter
func NewJsonFilter[P any](config Config) *JsonFilter[P] {
	if config.Field == "" {
		config.Field = "message"
	}
	return &JsonFilter[P]{
		config: config,
	}
}

func (f *JsonFilter[P]) Name() string { return "json" }

// BeforeSink parses the configured field and stores the decoded fields
func (f *JsonFilter[P]) BeforeSink(entry *core.Entry) {
	var data string
	switch f.config.Field {
	case "message":
		data = entry.Message
	default:
		val, ok := entry.Metadata.Get(f.config.Field)
		if !ok {
			return // Field not found, pass through
		}
		data = fmt.Sprint(val)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		Parsed.Set(entry, false)
		return
	}
	Parsed.Set(entry, true)

	var fields core.Metadata
	for _, k := range sortedKeys(parsed) {
		if f.config.Flatten {
			fields = flatten(k, parsed[k], fields)
		} else {
			fields = append(fields, core.F(k, parsed[k]))
		}
	}
	core.AddFields(entry, fields...)
}

// Sink drops entries whose field failed to parse unless errors are ignored
func (f *JsonFilter[P]) Sink(rec core.Record[P], next core.Next[P]) {
	if ok, set := Parsed.Get(rec.Entry); set && !ok && !f.config.IgnoreErrors {
		next(core.Dropped[P]())
		return
	}
	next(core.Passed(rec.Payload))
}

// flatten recursively flattens nested maps with underscore-separated keys
func flatten(prefix string, value any, target core.Metadata) core.Metadata {
	nested, ok := value.(map[string]any)
	if !ok {
		return append(target, core.F(prefix, value))
	}
	for _, k := range sortedKeys(nested) {
		target = flatten(prefix+"_"+k, nested[k], target)
	}
	return target
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
