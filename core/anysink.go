package core

import (
	"fmt"
	"reflect"
)

// AnySink hides the concrete type of a stage behind two closures so that
// pipelines with different internals can be stored side by side.
type AnySink[In, Out any] struct {
	before   func(*Entry)
	sink     func(Record[In], Next[Out])
	deferred bool
}

// Erase wraps s. Erasing an AnySink returns it unchanged.
func Erase[In, Out any](s Sink[In, Out]) AnySink[In, Out] {
	if a, ok := s.(AnySink[In, Out]); ok {
		return a
	}
	return AnySink[In, Out]{before: s.BeforeSink, sink: s.Sink, deferred: IsDeferred(s)}
}

// SinkFuncs builds a stage from closures. A nil before is a no-op. The sink
// closure is treated as synchronous; see Deferring.
func SinkFuncs[In, Out any](before func(*Entry), sink func(Record[In], Next[Out])) AnySink[In, Out] {
	return AnySink[In, Out]{before: before, sink: sink}
}

// Deferring marks a as completing on another goroutine
func (a AnySink[In, Out]) Deferring() AnySink[In, Out] {
	a.deferred = true
	return a
}

func (a AnySink[In, Out]) Deferred() bool { return a.deferred }

func (a AnySink[In, Out]) BeforeSink(entry *Entry) {
	if a.before != nil {
		a.before(entry)
	}
}

func (a AnySink[In, Out]) Sink(rec Record[In], next Next[Out]) {
	if a.sink == nil {
		next(Failed[Out](&ContractViolation{Stage: "AnySink", Detail: "stage has no transform"}))
		return
	}
	a.sink(rec, next)
}

// Dynamic is a stage whose payload types are only known at run time
type Dynamic = Sink[any, any]

type untyped[In, Out any] struct {
	inner Sink[In, Out]
}

// Untype erases the payload types of s. Records whose payload is not an In
// fail with a *ContractViolation.
func Untype[In, Out any](s Sink[In, Out]) Dynamic {
	return &untyped[In, Out]{inner: s}
}

func (u *untyped[In, Out]) Name() string { return StageName(u.inner) }

func (u *untyped[In, Out]) Deferred() bool { return IsDeferred(u.inner) }

func (u *untyped[In, Out]) BeforeSink(entry *Entry) {
	u.inner.BeforeSink(entry)
}

func (u *untyped[In, Out]) Sink(rec Record[any], next Next[any]) {
	in, ok := payloadAs[In](rec.Payload)
	if !ok {
		next(Failed[any](mismatch(u.inner, "input", rec.Payload, reflect.TypeOf((*In)(nil)).Elem())))
		return
	}
	u.inner.Sink(Carry(rec, in), func(o Outcome[Out]) {
		if o.IsPassed() {
			next(Passed[any](o.Value()))
			return
		}
		next(Propagate[Out, any](o))
	})
}

type retyped[In, Out any] struct {
	inner Dynamic
}

// Retype restores static payload types on a Dynamic stage. A passed payload
// that is not an Out fails with a *ContractViolation.
func Retype[In, Out any](d Dynamic) Sink[In, Out] {
	if u, ok := d.(*untyped[In, Out]); ok {
		return u.inner
	}
	return &retyped[In, Out]{inner: d}
}

func (r *retyped[In, Out]) Name() string { return StageName(r.inner) }

func (r *retyped[In, Out]) Deferred() bool { return IsDeferred(r.inner) }

func (r *retyped[In, Out]) BeforeSink(entry *Entry) {
	r.inner.BeforeSink(entry)
}

func (r *retyped[In, Out]) Sink(rec Record[In], next Next[Out]) {
	r.inner.Sink(Carry[In, any](rec, rec.Payload), func(o Outcome[any]) {
		if !o.IsPassed() {
			next(Propagate[any, Out](o))
			return
		}
		out, ok := payloadAs[Out](o.Value())
		if !ok {
			next(Failed[Out](mismatch(r.inner, "output", o.Value(), reflect.TypeOf((*Out)(nil)).Elem())))
			return
		}
		next(Passed(out))
	})
}

// payloadAs converts an erased payload back to T. A nil payload is the zero
// value of an interface type T.
func payloadAs[T any](v any) (T, bool) {
	if v == nil {
		var zero T
		return zero, reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Interface
	}
	t, ok := v.(T)
	return t, ok
}

func mismatch(stage any, side string, got any, want reflect.Type) *ContractViolation {
	return &ContractViolation{
		Stage:  StageName(stage),
		Calls:  1,
		Detail: fmt.Sprintf("%s payload is %T, expected %s", side, got, want),
	}
}
