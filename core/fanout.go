package core

import "sync/atomic"

type fanOut[In, Out any] struct {
	branches []Sink[In, Out]
}

// FanOut delivers each record to every branch. Branch outcomes are collected in
// branch order and passed on once every branch has completed; a failing or
// dropping branch does not affect its siblings.
func FanOut[In, Out any](branches ...Sink[In, Out]) Sink[In, []Outcome[Out]] {
	return &fanOut[In, Out]{branches: branches}
}

func (f *fanOut[In, Out]) BeforeSink(entry *Entry) {
	for _, b := range f.branches {
		b.BeforeSink(entry)
	}
}

func (f *fanOut[In, Out]) Deferred() bool {
	for _, b := range f.branches {
		if IsDeferred(b) {
			return true
		}
	}
	return false
}

func (f *fanOut[In, Out]) Sink(rec Record[In], next Next[[]Outcome[Out]]) {
	results := make([]Outcome[Out], len(f.branches))
	if len(results) == 0 {
		next(Passed(results))
		return
	}
	var remaining atomic.Int32
	remaining.Store(int32(len(results)))
	for i, b := range f.branches {
		i, b := i, b
		b.Sink(rec, Guard(b, func(o Outcome[Out]) {
			results[i] = o
			if remaining.Add(-1) == 0 {
				next(Passed(results))
			}
		}))
	}
}

// Pair holds the outcomes of the two branches of a Fork
type Pair[A, B any] struct {
	First  Outcome[A]
	Second Outcome[B]
}

type fork[In, A, B any] struct {
	a Sink[In, A]
	b Sink[In, B]
}

// Fork delivers each record to two branches of different output types
func Fork[In, A, B any](a Sink[In, A], b Sink[In, B]) Sink[In, Pair[A, B]] {
	return &fork[In, A, B]{a: a, b: b}
}

func (f *fork[In, A, B]) BeforeSink(entry *Entry) {
	f.a.BeforeSink(entry)
	f.b.BeforeSink(entry)
}

func (f *fork[In, A, B]) Deferred() bool { return IsDeferred(f.a) || IsDeferred(f.b) }

func (f *fork[In, A, B]) Sink(rec Record[In], next Next[Pair[A, B]]) {
	var (
		pair      Pair[A, B]
		remaining atomic.Int32
	)
	remaining.Store(2)
	f.a.Sink(rec, Guard(f.a, func(o Outcome[A]) {
		pair.First = o
		if remaining.Add(-1) == 0 {
			next(Passed(pair))
		}
	}))
	f.b.Sink(rec, Guard(f.b, func(o Outcome[B]) {
		pair.Second = o
		if remaining.Add(-1) == 0 {
			next(Passed(pair))
		}
	}))
}
