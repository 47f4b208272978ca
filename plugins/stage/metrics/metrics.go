package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/metrics"
)

func init() {
	// Auto-register this plugin
	core.RegisterTransform("metrics", NewObservedFromConfig)
}

// Config represents metrics stage configuration
type Config struct {
	Name      string                `yaml:"name"`      // value of the stage label
	Transform core.PluginDefinition `yaml:"transform"` // stage to observe, passthrough when empty
}

// NewObservedFromConfig wraps a registered transform and counts its outcomes
func NewObservedFromConfig(config map[string]any) (any, error) {
	cfg := Config{Name: "pipeline"}
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	inner := core.Passthrough[[]byte]()
	if cfg.Transform.Type != "" {
		created, err := core.CreateTransform(cfg.Transform.Type, cfg.Transform.Config)
		if err != nil {
			return nil, err
		}
		inner = created
	}

	counter, err := OutcomeCounter()
	if err != nil {
		return nil, err
	}
	return New(cfg.Name, inner, counter), nil
}

// OutcomeCounter returns the shared logdog_stage_outcomes_total counter
func OutcomeCounter() (*prometheus.CounterVec, error) {
	return metrics.CounterVec(prometheus.CounterOpts{
		Name: "logdog_stage_outcomes_total",
		Help: "Outcomes produced by observed pipeline stages",
	}, "stage", "outcome")
}

// Observed counts passed, dropped and failed outcomes of a stage
type Observed[In, Out any] struct {
	name    string
	inner   core.Sink[In, Out]
	passed  prometheus.Counter
	dropped prometheus.Counter
	failed  prometheus.Counter
}

// New creates a new observed stage
func New[In, Out any](name string, inner core.Sink[In, Out], counter *prometheus.CounterVec) *Observed[In, Out] {
	return &Observed[In, Out]{
		name:    name,
		inner:   inner,
		passed:  counter.WithLabelValues(name, "passed"),
		dropped: counter.WithLabelValues(name, "dropped"),
		failed:  counter.WithLabelValues(name, "failed"),
	}
}

func (o *Observed[In, Out]) Name() string { return "metrics(" + o.name + ")" }

func (o *Observed[In, Out]) Deferred() bool { return core.IsDeferred(o.inner) }

func (o *Observed[In, Out]) BeforeSink(entry *core.Entry) {
	o.inner.BeforeSink(entry)
}

// Sink forwards the inner outcome after counting it
func (o *Observed[In, Out]) Sink(rec core.Record[In], next core.Next[Out]) {
	o.inner.Sink(rec, func(out core.Outcome[Out]) {
		switch {
		case out.IsPassed():
			o.passed.Inc()
		case out.IsDropped():
			o.dropped.Inc()
		default:
			o.failed.Inc()
		}
		next(out)
	})
}

// Close closes the inner stage
func (o *Observed[In, Out]) Close() error {
	return core.CloseStage(o.inner)
}
