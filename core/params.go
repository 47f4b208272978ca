package core

import (
	"fmt"
	"sync"
)

// ParamID identifies a parameter bag slot. IDs are minted by RegisterParam and
// never reused, so two stages can only share a slot by sharing the ID.
type ParamID uint32

var (
	paramMu    sync.RWMutex
	paramNames = []string{""}
)

// RegisterParam mints a new parameter identifier
func RegisterParam(name string) ParamID {
	paramMu.Lock()
	defer paramMu.Unlock()
	paramNames = append(paramNames, name)
	return ParamID(len(paramNames) - 1)
}

// String returns the name the identifier was registered with
func (id ParamID) String() string {
	paramMu.RLock()
	defer paramMu.RUnlock()
	if int(id) <= 0 || int(id) >= len(paramNames) {
		return fmt.Sprintf("param(%d)", uint32(id))
	}
	return paramNames[id]
}

// Parameters is the per-entry bag written by pre-hooks. It is not safe for
// concurrent use; pre-hooks run on the caller's goroutine.
type Parameters struct {
	values map[ParamID]any
}

// Set stores value under id, replacing any previous value
func (p *Parameters) Set(id ParamID, value any) {
	if p.values == nil {
		p.values = make(map[ParamID]any)
	}
	p.values[id] = value
}

// Get returns the value stored under id
func (p *Parameters) Get(id ParamID) (any, bool) {
	v, ok := p.values[id]
	return v, ok
}

// Len returns the number of stored parameters
func (p *Parameters) Len() int {
	return len(p.values)
}

// Snapshot returns a copy of the bag. Later writes do not affect it.
func (p *Parameters) Snapshot() map[ParamID]any {
	out := make(map[ParamID]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Key is a typed handle on a parameter slot
type Key[T any] struct {
	id ParamID
}

// NewKey registers a new slot holding values of type T
func NewKey[T any](name string) Key[T] {
	return Key[T]{id: RegisterParam(name)}
}

// ID returns the underlying identifier
func (k Key[T]) ID() ParamID { return k.id }

// Set stores v in the entry's bag
func (k Key[T]) Set(e *Entry, v T) {
	e.params.Set(k.id, v)
}

// Get reads the slot from the entry's bag. A value of another type reads as absent.
func (k Key[T]) Get(e *Entry) (T, bool) {
	raw, ok := e.params.Get(k.id)
	return cast[T](raw, ok)
}

// Lookup reads the slot from a bag snapshot
func (k Key[T]) Lookup(snapshot map[ParamID]any) (T, bool) {
	raw, ok := snapshot[k.id]
	return cast[T](raw, ok)
}

func cast[T any](raw any, ok bool) (T, bool) {
	var zero T
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
