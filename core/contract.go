package core

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var strictContracts atomic.Bool

func init() {
	strictContracts.Store(true)
}

// SetStrictContracts selects how a continuation invoked twice is reported.
// Strict mode panics with a *ContractViolation; lenient mode logs and ignores
// the extra call.
func SetStrictContracts(strict bool) {
	strictContracts.Store(strict)
}

// StrictContracts reports the current mode
func StrictContracts() bool {
	return strictContracts.Load()
}

// Guard wraps next so that only the first invocation reaches it. stage is only
// used to name the offender.
func Guard[T any](stage any, next Next[T]) Next[T] {
	var calls atomic.Int32
	return func(o Outcome[T]) {
		n := calls.Add(1)
		if n == 1 {
			next(o)
			return
		}
		violate(&ContractViolation{
			Stage:  StageName(stage),
			Calls:  int(n),
			Detail: "continuation invoked more than once",
		})
	}
}

func violate(v *ContractViolation) {
	if strictContracts.Load() {
		panic(v)
	}
	zap.L().Named("core").Error("sink contract violation",
		zap.String("stage", v.Stage),
		zap.Int("calls", v.Calls),
		zap.String("detail", v.Detail))
}
