package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Run drives a synchronous stage and returns its outcome. A stage that returns
// without invoking its continuation yields a failed outcome carrying a
// *ContractViolation; use Await for stages that complete on another goroutine.
func Run[In, Out any](s Sink[In, Out], rec Record[In]) Outcome[Out] {
	var (
		mu   sync.Mutex
		out  Outcome[Out]
		done bool
	)
	s.Sink(rec, Guard(s, func(o Outcome[Out]) {
		mu.Lock()
		out, done = o, true
		mu.Unlock()
	}))
	mu.Lock()
	defer mu.Unlock()
	if !done {
		return Failed[Out](&ContractViolation{
			Stage:  StageName(s),
			Detail: "continuation not invoked before Sink returned",
		})
	}
	return out
}

// Await drives a stage that may complete on another goroutine. ctx bounds the
// wait only; the stage keeps running if ctx is done first. A stage that is not
// a Deferrer and returns without invoking its continuation yields a failed
// outcome carrying a *ContractViolation.
func Await[In, Out any](ctx context.Context, s Sink[In, Out], rec Record[In]) (Outcome[Out], error) {
	var fired atomic.Bool
	ch := make(chan Outcome[Out], 1)
	s.Sink(rec, Guard(s, func(o Outcome[Out]) {
		fired.Store(true)
		ch <- o
	}))
	if !fired.Load() && !IsDeferred(s) {
		return Failed[Out](&ContractViolation{
			Stage:  StageName(s),
			Detail: "continuation not invoked before Sink returned",
		}), nil
	}
	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return Outcome[Out]{}, ctx.Err()
	}
}

// Execute runs the pre-hook phase and then the transform phase of s for entry
func Execute[Out any](ctx context.Context, s Sink[Void, Out], entry *Entry) (Outcome[Out], error) {
	s.BeforeSink(entry)
	return Await(ctx, s, Start(entry))
}
