package core

import "context"

// Appender commits the final payload of a pipeline somewhere
type Appender[T any] interface {
	Append(ctx context.Context, payload T, entry Snapshot) error
	Close() error
}

type appendStage[T any] struct {
	appender Appender[T]
}

// AppendStage turns an appender into a terminal stage. Append errors surface
// as failed outcomes.
func AppendStage[T any](appender Appender[T]) Sink[T, Void] {
	return &appendStage[T]{appender: appender}
}

func (a *appendStage[T]) Name() string { return StageName(a.appender) }

func (a *appendStage[T]) BeforeSink(*Entry) {}

func (a *appendStage[T]) Sink(rec Record[T], next Next[Void]) {
	if err := a.appender.Append(context.Background(), rec.Payload, rec.Entry.Snapshot()); err != nil {
		next(Failed[Void](err))
		return
	}
	next(Passed(Void{}))
}
