package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPlugin is returned by the registry for unregistered plugin types
	ErrUnknownPlugin = errors.New("unknown plugin type")
	// ErrDropped is returned by Outcome.Unwrap for dropped outcomes
	ErrDropped = errors.New("entry dropped")
	// ErrClosed is returned by appenders after Close
	ErrClosed = errors.New("appender closed")
)

// FormatError reports a leaf transform that could not produce its payload
type FormatError struct {
	Stage string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ContractViolation reports a stage that broke the sink contract: it called its
// continuation zero or several times, or produced a payload of the wrong type.
type ContractViolation struct {
	Stage  string
	Calls  int
	Detail string
}

func (e *ContractViolation) Error() string {
	if e.Stage == "" {
		return "sink contract violation: " + e.Detail
	}
	return fmt.Sprintf("sink contract violation in %s: %s (calls=%d)", e.Stage, e.Detail, e.Calls)
}
