package core

import (
	"io"

	"go.uber.org/multierr"
)

// Concat runs First and feeds its passed payload to Second
type Concat[In, Mid, Out any] struct {
	First  Sink[In, Mid]
	Second Sink[Mid, Out]
}

// Compose chains two stages. Pre-hooks of both run in order; a dropped or
// failed outcome of a is forwarded without invoking b.
func Compose[In, Mid, Out any](a Sink[In, Mid], b Sink[Mid, Out]) Sink[In, Out] {
	return &Concat[In, Mid, Out]{First: a, Second: b}
}

// Chain3 composes three stages left to right
func Chain3[A, B, C, D any](s1 Sink[A, B], s2 Sink[B, C], s3 Sink[C, D]) Sink[A, D] {
	return Compose(Compose(s1, s2), s3)
}

// BeforeSink runs First's pre-hook then Second's
func (c *Concat[In, Mid, Out]) BeforeSink(entry *Entry) {
	c.First.BeforeSink(entry)
	c.Second.BeforeSink(entry)
}

// Sink runs First and, if it passed, Second
func (c *Concat[In, Mid, Out]) Sink(rec Record[In], next Next[Out]) {
	c.First.Sink(rec, Guard(c.First, func(o Outcome[Mid]) {
		if !o.IsPassed() {
			next(Propagate[Mid, Out](o))
			return
		}
		c.Second.Sink(Carry(rec, o.Value()), Guard(c.Second, next))
	}))
}

// Deferred reports whether either stage completes asynchronously
func (c *Concat[In, Mid, Out]) Deferred() bool {
	return IsDeferred(c.First) || IsDeferred(c.Second)
}

// Close releases resources held by either stage
func (c *Concat[In, Mid, Out]) Close() error {
	return multierr.Append(CloseStage(c.First), CloseStage(c.Second))
}

// CloseStage closes s if it holds resources
func CloseStage(s any) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
