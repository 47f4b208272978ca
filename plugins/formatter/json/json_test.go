package json

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mbiondo/logdog/core"
)

func TestJSONFormatterFormat(t *testing.T) {
	f := NewJSONFormatter(Config{})
	f.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	e := core.NewEntryFromEvent(core.Event{
		Level:    core.LevelError,
		Message:  "payment failed",
		Metadata: core.Metadata{core.F("order", 17)},
		Label:    "billing",
		File:     "billing.go",
		Line:     9,
	})
	core.AddFields(e, core.F("event_id", "abc"))

	out, err := core.Execute[[]byte](context.Background(), f, e)
	if err != nil || !out.IsPassed() {
		t.Fatalf("Execute() = %v, %v", out, err)
	}

	var doc Document
	if err := json.Unmarshal(out.Value(), &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc.Timestamp != "2024-01-02T03:04:05Z" {
		t.Errorf("Timestamp = %q", doc.Timestamp)
	}
	if doc.Level != "error" || doc.Label != "billing" || doc.Message != "payment failed" {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.Metadata["order"] != float64(17) || doc.Metadata["event_id"] != "abc" {
		t.Errorf("unexpected metadata %v", doc.Metadata)
	}
}

func TestJSONFormatterUnencodableMetadata(t *testing.T) {
	f := NewJSONFormatter(Config{})
	e := core.NewEntryFromEvent(core.Event{
		Level:    core.LevelInfo,
		Message:  "x",
		Metadata: core.Metadata{core.F("ch", make(chan int))},
	})

	out, err := core.Execute[[]byte](context.Background(), f, e)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var fe *core.FormatError
	if !errors.As(out.Err(), &fe) || fe.Stage != "json" {
		t.Errorf("Expected FormatError from json stage, got %v", out)
	}
}

func TestJSONFormatterDropsWithoutPreHook(t *testing.T) {
	f := NewJSONFormatter(Config{})

	if out := core.Run[core.Void, []byte](f, core.Start(core.NewEntry(core.LevelInfo, "x"))); !out.IsDropped() {
		t.Errorf("Expected dropped outcome, got %v", out)
	}
}

func TestNewJSONFormatterFromConfig(t *testing.T) {
	plugin, err := NewJSONFormatterFromConfig(map[string]any{"time_format": time.Kitchen})
	if err != nil {
		t.Fatalf("NewJSONFormatterFromConfig() error = %v", err)
	}
	f, ok := plugin.(*JSONFormatter)
	if !ok {
		t.Fatalf("plugin has type %T", plugin)
	}
	if f.timeFormat != time.Kitchen {
		t.Errorf("timeFormat = %q", f.timeFormat)
	}
	if _, ok := plugin.(core.Formatter); !ok {
		t.Error("plugin does not satisfy core.Formatter")
	}
}
