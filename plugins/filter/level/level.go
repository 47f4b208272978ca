package level

import (
	"fmt"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/plugins/filter/match"
)

func init() {
	// Auto-register this plugin
	core.RegisterFilter("level", NewLevelFilterFromConfig)
}

// Config represents level filter configuration. Levels lists the exact levels
// to keep; otherwise every level at or above MinLevel is kept.
type Config struct {
	Levels   []string `yaml:"levels"`
	MinLevel string   `yaml:"min_level"`
	Mode     string   `yaml:"mode,omitempty"` // "allow" or "deny"
}

// NewLevelFilterFromConfig creates a level filter from configuration map
func NewLevelFilterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	action := match.ActionAllow
	switch cfg.Mode {
	case "", "allow":
	case "deny":
		action = match.ActionDeny
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	if len(cfg.Levels) > 0 {
		levels := make([]core.Level, 0, len(cfg.Levels))
		for _, name := range cfg.Levels {
			l, err := core.ParseLevel(name)
			if err != nil {
				return nil, err
			}
			levels = append(levels, l)
		}
		return NewLevelFilter[[]byte](match.In(levels...), action), nil
	}

	min := core.LevelTrace
	if cfg.MinLevel != "" {
		l, err := core.ParseLevel(cfg.MinLevel)
		if err != nil {
			return nil, err
		}
		min = l
	}
	return NewLevelFilter[[]byte](match.AtLeast(min), action), nil
}

// NewLevelFilter creates a new gate judging records by level
func NewLevelFilter[P any](predicate match.Predicate[core.Level], action match.Action) core.Sink[P, P] {
	return match.Gate(match.Level[P], predicate, action)
}
