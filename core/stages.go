package core

type funcStage[In, Out any] struct {
	name   string
	before func(*Entry)
	fn     func(Record[In]) (Out, bool, error)
}

func (f *funcStage[In, Out]) Name() string { return f.name }

func (f *funcStage[In, Out]) BeforeSink(entry *Entry) {
	if f.before != nil {
		f.before(entry)
	}
}

func (f *funcStage[In, Out]) Sink(rec Record[In], next Next[Out]) {
	Emit(f.name, rec, next, f.fn)
}

// Emit invokes next once with the result of fn. Errors that are not already a
// *FormatError or *ContractViolation are wrapped in a *FormatError for stage.
func Emit[In, Out any](stage string, rec Record[In], next Next[Out], fn func(Record[In]) (Out, bool, error)) {
	out, ok, err := fn(rec)
	switch {
	case err != nil:
		next(Failed[Out](wrapFormat(stage, err)))
	case !ok:
		next(Dropped[Out]())
	default:
		next(Passed(out))
	}
}

func wrapFormat(stage string, err error) error {
	switch err.(type) {
	case *FormatError, *ContractViolation:
		return err
	}
	return &FormatError{Stage: stage, Err: err}
}

// Map creates a stage applying a pure function to the payload
func Map[In, Out any](name string, fn func(Record[In]) Out) Sink[In, Out] {
	return &funcStage[In, Out]{name: name, fn: func(rec Record[In]) (Out, bool, error) {
		return fn(rec), true, nil
	}}
}

// Try creates a stage applying a function that may fail
func Try[In, Out any](name string, fn func(Record[In]) (Out, error)) Sink[In, Out] {
	return &funcStage[In, Out]{name: name, fn: func(rec Record[In]) (Out, bool, error) {
		out, err := fn(rec)
		return out, true, err
	}}
}

// Format creates a stage that may also drop the entry by returning ok=false
func Format[In, Out any](name string, fn func(Record[In]) (Out, bool, error)) Sink[In, Out] {
	return &funcStage[In, Out]{name: name, fn: fn}
}

// Passthrough returns a stage that passes every payload unchanged
func Passthrough[T any]() Sink[T, T] {
	return Hook[T](nil)
}

// Hook returns a stage that only contributes a pre-hook
func Hook[T any](fn func(*Entry)) Sink[T, T] {
	return &funcStage[T, T]{name: "hook", before: fn, fn: func(rec Record[T]) (T, bool, error) {
		return rec.Payload, true, nil
	}}
}

// Bytes converts string payloads to bytes
func Bytes() Sink[string, []byte] {
	return Map("bytes", func(rec Record[string]) []byte {
		return []byte(rec.Payload)
	})
}
