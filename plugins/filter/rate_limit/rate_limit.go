package rate_limit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterFilter("rate_limit", NewRateLimitFilterFromConfig)
}

// Config represents rate limit filter configuration
type Config struct {
	Rate  float64 `yaml:"rate"`  // logs per second
	Burst int     `yaml:"burst"` // maximum burst size
}

// NewRateLimitFilterFromConfig creates a rate limit filter from configuration map
func NewRateLimitFilterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("rate must not be negative")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return NewRateLimitFilter[[]byte](cfg.Rate, cfg.Burst), nil
}

// RateLimitFilter drops entries once the token bucket is empty
type RateLimitFilter[P any] struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimitFilter creates a new rate limit filter
func NewRateLimitFilter[P any](perSecond float64, burst int) *RateLimitFilter[P] {
	return &RateLimitFilter[P]{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
}

func (f *RateLimitFilter[P]) Name() string { return "rate_limit" }

func (f *RateLimitFilter[P]) BeforeSink(*core.Entry) {}

// Sink passes the payload while tokens are available
func (f *RateLimitFilter[P]) Sink(rec core.Record[P], next core.Next[P]) {
	if f.limiter.AllowN(f.now(), 1) {
		next(core.Passed(rec.Payload))
		return
	}
	next(core.Dropped[P]())
}
