package eventid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterTransform("eventid", NewEventIDFromConfig)
}

// Key holds the id assigned to the entry
var Key = core.NewKey[string]("event_id")

// Config represents event id configuration
type Config struct {
	Version int    `yaml:"version"` // UUID version, 4 or 7
	Field   string `yaml:"field"`   // field name added for formatters, empty to skip
}

// NewEventIDFromConfig creates an event id stage from configuration map
func NewEventIDFromConfig(config map[string]any) (any, error) {
	cfg := Config{Version: 4, Field: "event_id"}
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New[[]byte](cfg)
}

// EventID assigns every entry a unique id during the pre-hook phase
type EventID[P any] struct {
	generate func() (uuid.UUID, error)
	field    string
}

// New creates a new event id stage
func New[P any](cfg Config) (*EventID[P], error) {
	e := &EventID[P]{field: cfg.Field}
	switch cfg.Version {
	case 0, 4:
		e.generate = uuid.NewRandom
	case 7:
		e.generate = uuid.NewV7
	default:
		return nil, fmt.Errorf("unsupported uuid version %d", cfg.Version)
	}
	return e, nil
}

func (e *EventID[P]) Name() string { return "eventid" }

// BeforeSink stores a fresh id. Entries that already carry one keep it.
func (e *EventID[P]) BeforeSink(entry *core.Entry) {
	if _, ok := Key.Get(entry); ok {
		return
	}
	id, err := e.generate()
	if err != nil {
		return
	}
	Key.Set(entry, id.String())
	if e.field != "" {
		core.AddFields(entry, core.F(e.field, id.String()))
	}
}

// Sink passes the payload unchanged
func (e *EventID[P]) Sink(rec core.Record[P], next core.Next[P]) {
	next(core.Passed(rec.Payload))
}
