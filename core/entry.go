package core

import (
	"fmt"
	"strings"
)

// Field is one metadata key/value pair
type Field struct {
	Key   string
	Value any
}

// F creates a new Field
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Metadata keeps fields in the order the caller supplied them
type Metadata []Field

// Get returns the first value stored under key
func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Map converts the metadata to a map; later duplicates win
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m))
	for _, f := range m {
		out[f.Key] = f.Value
	}
	return out
}

// String renders "k=v, k=v" in caller order
func (m Metadata) String() string {
	var b strings.Builder
	for i, f := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", f.Key, f.Value)
	}
	return b.String()
}

// Event is what a logging facade hands to the pipeline
type Event struct {
	Level    Level
	Message  string
	Metadata Metadata
	Label    string
	Source   string
	File     string
	Function string
	Line     int
}

// Entry is a single log invocation flowing through a pipeline. Event fields are
// fixed at creation; stages communicate through the parameter bag.
type Entry struct {
	Event
	params Parameters
}

// NewEntry creates a new entry with the given level and message
func NewEntry(level Level, message string) *Entry {
	return &Entry{Event: Event{Level: level, Message: message}}
}

// NewEntryFromEvent creates a new entry from a facade event
func NewEntryFromEvent(ev Event) *Entry {
	ev.Metadata = append(Metadata(nil), ev.Metadata...)
	return &Entry{Event: ev}
}

// Parameters returns the entry's parameter bag
func (e *Entry) Parameters() *Parameters {
	return &e.params
}

// Snapshot is an immutable copy of an entry handed to appenders
type Snapshot struct {
	Event
	Parameters map[ParamID]any
}

// Snapshot copies the entry and its parameter bag
func (e *Entry) Snapshot() Snapshot {
	ev := e.Event
	ev.Metadata = append(Metadata(nil), e.Metadata...)
	return Snapshot{Event: ev, Parameters: e.params.Snapshot()}
}

// Void is the payload of a record before any formatter ran
type Void struct{}

// Record pairs an entry with the payload produced so far
type Record[T any] struct {
	Entry   *Entry
	Payload T
}

// NewRecord creates a new record
func NewRecord[T any](entry *Entry, payload T) Record[T] {
	return Record[T]{Entry: entry, Payload: payload}
}

// Start creates the initial record for an entry
func Start(entry *Entry) Record[Void] {
	return Record[Void]{Entry: entry}
}

// WithPayload returns a record for the same entry carrying payload
func (r Record[T]) WithPayload(payload T) Record[T] {
	return Record[T]{Entry: r.Entry, Payload: payload}
}

// Carry returns a record for the same entry with a payload of another type
func Carry[In, Out any](r Record[In], payload Out) Record[Out] {
	return Record[Out]{Entry: r.Entry, Payload: payload}
}

// ExtraFields holds fields derived by pre-hooks, rendered by formatters after
// the caller's metadata
var ExtraFields = NewKey[Metadata]("fields")

// AddFields appends derived fields to the entry
func AddFields(e *Entry, fields ...Field) {
	existing, _ := ExtraFields.Get(e)
	ExtraFields.Set(e, append(existing, fields...))
}

// Fields returns the caller's metadata followed by derived fields
func (e *Entry) Fields() Metadata {
	extra, _ := ExtraFields.Get(e)
	if len(extra) == 0 {
		return e.Metadata
	}
	out := make(Metadata, 0, len(e.Metadata)+len(extra))
	return append(append(out, e.Metadata...), extra...)
}

// Fields returns the caller's metadata followed by derived fields
func (s Snapshot) Fields() Metadata {
	extra, _ := ExtraFields.Lookup(s.Parameters)
	return append(append(Metadata(nil), s.Metadata...), extra...)
}
