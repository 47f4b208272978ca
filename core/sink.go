package core

import "fmt"

// Next is the continuation a stage invokes with its outcome
type Next[T any] func(Outcome[T])

// Sink is a pipeline stage turning In payloads into Out payloads.
//
// BeforeSink runs once per entry before any stage of the chain transforms it and
// may only write to the entry's parameter bag. Sink must invoke next exactly once,
// either before returning or later from another goroutine.
type Sink[In, Out any] interface {
	BeforeSink(entry *Entry)
	Sink(rec Record[In], next Next[Out])
}

// Named is implemented by stages that want a readable name in errors
type Named interface {
	Name() string
}

// Deferrer is implemented by stages that may invoke their continuation after
// Sink has returned. Stages that do not implement it are synchronous.
type Deferrer interface {
	Deferred() bool
}

// IsDeferred reports whether s may complete on another goroutine
func IsDeferred(s any) bool {
	d, ok := s.(Deferrer)
	return ok && d.Deferred()
}

// StageName returns the name used for s in errors and logs
func StageName(s any) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
