package prometheusappender

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/metrics"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("prometheus", NewPrometheusAppenderFromConfig)
}

// Config represents prometheus appender configuration
type Config struct {
	Listen string `yaml:"listen,omitempty"` // serve /metrics here as well, e.g. ":9091"
}

// NewPrometheusAppenderFromConfig creates a prometheus appender from configuration map
func NewPrometheusAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewPrometheusAppender(cfg)
}

// PrometheusAppender turns events into metrics instead of storing them
type PrometheusAppender struct {
	events     *prometheus.CounterVec
	bytes      *prometheus.HistogramVec
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewPrometheusAppender creates a new prometheus appender
func NewPrometheusAppender(config Config) (*PrometheusAppender, error) {
	events, err := metrics.CounterVec(prometheus.CounterOpts{
		Name: "logdog_events_total",
		Help: "Events that reached the prometheus appender, by level and label",
	}, "level", "label")
	if err != nil {
		return nil, err
	}
	bytes, err := metrics.HistogramVec(prometheus.HistogramOpts{
		Name:    "logdog_payload_bytes",
		Help:    "Size of formatted payloads, by label",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	}, "label")
	if err != nil {
		return nil, err
	}

	p := &PrometheusAppender{
		events: events,
		bytes:  bytes,
		logger: zap.L().Named("prometheus"),
	}

	if config.Listen != "" {
		if err := p.serve(config.Listen); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusAppender) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	p.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.addr = ln.Addr().String()
	p.logger.Info("serving metrics", zap.String("addr", p.addr))
	go func() {
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address of the metrics listener, or "" when not serving
func (p *PrometheusAppender) Addr() string {
	return p.addr
}

func (p *PrometheusAppender) Name() string { return "prometheus" }

// Append counts the event
func (p *PrometheusAppender) Append(_ context.Context, payload []byte, entry core.Snapshot) error {
	p.events.WithLabelValues(entry.Level.String(), entry.Label).Inc()
	p.bytes.WithLabelValues(entry.Label).Observe(float64(len(payload)))
	return nil
}

// Close shuts the metrics server down when one was started
func (p *PrometheusAppender) Close() error {
	if p.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.httpServer.Shutdown(ctx)
}
