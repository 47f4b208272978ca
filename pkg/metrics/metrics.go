// Package metrics registers prometheus collectors shared by plugins. Plugins
// may be built several times (config reloads, several pipelines), so
// registration returns the collector that is already registered instead of
// failing.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu         sync.RWMutex
	registerer prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetRegisterer replaces the registerer used by plugins
func SetRegisterer(r prometheus.Registerer) {
	mu.Lock()
	defer mu.Unlock()
	registerer = r
}

// Registerer returns the registerer used by plugins
func Registerer() prometheus.Registerer {
	mu.RLock()
	defer mu.RUnlock()
	return registerer
}

// CounterVec registers a counter vector or returns the one already registered
// under the same descriptor
func CounterVec(opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	return register(Registerer(), prometheus.NewCounterVec(opts, labels))
}

// HistogramVec registers a histogram vector or returns the one already
// registered under the same descriptor
func HistogramVec(opts prometheus.HistogramOpts, labels ...string) (*prometheus.HistogramVec, error) {
	return register(Registerer(), prometheus.NewHistogramVec(opts, labels))
}

func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}
