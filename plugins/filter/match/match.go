// Package match is a small language for building filter stages:
//
//	match.WhenLevel(formatter).Is(match.AtLeast(core.LevelWarning)).Allow()
//
// selects a value from each record, tests it with a predicate and either keeps
// or drops the record. The resulting stage is the wrapped stage composed with
// a Gate, so it fits anywhere a core.Sink does.
package match

import (
	"path/filepath"

	"github.com/mbiondo/logdog/core"
)

// Transform selects the value a predicate is applied to
type Transform[P, T any] func(core.Record[P]) T

// Level selects the entry severity
func Level[P any](r core.Record[P]) core.Level { return r.Entry.Level }

// Message selects the entry message
func Message[P any](r core.Record[P]) string { return r.Entry.Message }

// Source selects the entry source
func Source[P any](r core.Record[P]) string { return r.Entry.Source }

// Label selects the logger label
func Label[P any](r core.Record[P]) string { return r.Entry.Label }

// Path selects the call-site file path
func Path[P any](r core.Record[P]) string { return r.Entry.File }

// Filename selects the base name of the call-site file
func Filename[P any](r core.Record[P]) string { return filepath.Base(r.Entry.File) }

// Function selects the call-site function
func Function[P any](r core.Record[P]) string { return r.Entry.Function }

// Payload selects the payload produced so far
func Payload[P any](r core.Record[P]) P { return r.Payload }

// Text selects a byte payload as a string
func Text(r core.Record[[]byte]) string { return string(r.Payload) }

// Action decides what happens to a record whose value matched
type Action int

const (
	// ActionAllow keeps matching records and drops the rest
	ActionAllow Action = iota
	// ActionDeny drops matching records and keeps the rest
	ActionDeny
)

func (a Action) String() string {
	if a == ActionDeny {
		return "deny"
	}
	return "allow"
}

type gate[P, T any] struct {
	transform Transform[P, T]
	predicate Predicate[T]
	action    Action
}

// Gate returns a stage that passes the payload unchanged or drops the record,
// depending on predicate and action.
func Gate[P, T any](transform Transform[P, T], predicate Predicate[T], action Action) core.Sink[P, P] {
	return &gate[P, T]{transform: transform, predicate: predicate, action: action}
}

func (g *gate[P, T]) Name() string { return "match." + g.action.String() }

func (g *gate[P, T]) BeforeSink(*core.Entry) {}

func (g *gate[P, T]) Sink(rec core.Record[P], next core.Next[P]) {
	matched := g.predicate(g.transform(rec))
	if matched == (g.action == ActionAllow) {
		next(core.Passed(rec.Payload))
		return
	}
	next(core.Dropped[P]())
}

// When is a stage together with the value its records are judged by
type When[In, Out, T any] struct {
	sink      core.Sink[In, Out]
	transform Transform[Out, T]
}

// Select judges the records produced by s by the value transform selects
func Select[In, Out, T any](s core.Sink[In, Out], transform Transform[Out, T]) When[In, Out, T] {
	return When[In, Out, T]{sink: s, transform: transform}
}

// WhenLevel judges records by severity
func WhenLevel[In, Out any](s core.Sink[In, Out]) When[In, Out, core.Level] {
	return Select(s, Level[Out])
}

// WhenMessage judges records by message
func WhenMessage[In, Out any](s core.Sink[In, Out]) When[In, Out, string] {
	return Select(s, Message[Out])
}

// WhenSource judges records by source
func WhenSource[In, Out any](s core.Sink[In, Out]) When[In, Out, string] {
	return Select(s, Source[Out])
}

// WhenLabel judges records by logger label
func WhenLabel[In, Out any](s core.Sink[In, Out]) When[In, Out, string] {
	return Select(s, Label[Out])
}

// WhenPath judges records by call-site path
func WhenPath[In, Out any](s core.Sink[In, Out]) When[In, Out, string] {
	return Select(s, Path[Out])
}

// WhenFilename judges records by call-site file name
func WhenFilename[In, Out any](s core.Sink[In, Out]) When[In, Out, string] {
	return Select(s, Filename[Out])
}

// WhenPayload judges records by the payload s produced
func WhenPayload[In, Out any](s core.Sink[In, Out]) When[In, Out, Out] {
	return Select(s, Payload[Out])
}

// Is attaches a predicate
func (w When[In, Out, T]) Is(predicate Predicate[T]) Match[In, Out, T] {
	return Match[In, Out, T]{when: w, predicate: predicate}
}

// Matches attaches an ad hoc predicate function
func (w When[In, Out, T]) Matches(fn func(T) bool) Match[In, Out, T] {
	return w.Is(Predicate[T](fn))
}

// Match is a When with a predicate, waiting for its action
type Match[In, Out, T any] struct {
	when      When[In, Out, T]
	predicate Predicate[T]
}

// Allow keeps records whose value satisfies the predicate
func (m Match[In, Out, T]) Allow() core.Sink[In, Out] {
	return m.Then(ActionAllow)
}

// Deny drops records whose value satisfies the predicate
func (m Match[In, Out, T]) Deny() core.Sink[In, Out] {
	return m.Then(ActionDeny)
}

// Then builds the filtering stage for action
func (m Match[In, Out, T]) Then(action Action) core.Sink[In, Out] {
	return core.Compose(m.when.sink, Gate(m.when.transform, m.predicate, action))
}
