package core

import "fmt"

type outcomeKind uint8

const (
	kindPassed outcomeKind = iota + 1
	kindDropped
	kindFailed
)

// Outcome is the result a stage hands to its continuation: a passed payload,
// a deliberate drop, or a failure. The zero Outcome is none of these.
type Outcome[T any] struct {
	kind  outcomeKind
	value T
	err   error
}

// Passed creates an outcome carrying the transformed payload
func Passed[T any](value T) Outcome[T] {
	return Outcome[T]{kind: kindPassed, value: value}
}

// Dropped creates an outcome for an entry that was filtered out
func Dropped[T any]() Outcome[T] {
	return Outcome[T]{kind: kindDropped}
}

// Failed creates an outcome carrying err
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{kind: kindFailed, err: err}
}

func (o Outcome[T]) IsPassed() bool  { return o.kind == kindPassed }
func (o Outcome[T]) IsDropped() bool { return o.kind == kindDropped }
func (o Outcome[T]) IsFailed() bool  { return o.kind == kindFailed }

// Value returns the payload of a passed outcome, or the zero value
func (o Outcome[T]) Value() T { return o.value }

// Err returns the error of a failed outcome, or nil
func (o Outcome[T]) Err() error { return o.err }

// Unwrap returns the payload and an error describing why there is none.
// Dropped outcomes yield ErrDropped.
func (o Outcome[T]) Unwrap() (T, error) {
	switch o.kind {
	case kindPassed:
		return o.value, nil
	case kindDropped:
		return o.value, ErrDropped
	case kindFailed:
		return o.value, o.err
	}
	return o.value, &ContractViolation{Detail: "empty outcome"}
}

func (o Outcome[T]) String() string {
	switch o.kind {
	case kindPassed:
		return fmt.Sprintf("passed(%v)", o.value)
	case kindDropped:
		return "dropped"
	case kindFailed:
		return fmt.Sprintf("failed(%v)", o.err)
	}
	return "none"
}

// Propagate converts a dropped or failed outcome to another payload type.
// A passed outcome cannot be converted without a value and yields a
// contract violation.
func Propagate[In, Out any](o Outcome[In]) Outcome[Out] {
	switch o.kind {
	case kindDropped:
		return Dropped[Out]()
	case kindFailed:
		return Failed[Out](o.err)
	}
	return Failed[Out](&ContractViolation{Detail: "propagate called on " + o.String()})
}
