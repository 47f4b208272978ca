package regex

import (
	"fmt"
	"regexp"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/plugins/filter/match"
)

func init() {
	// Auto-register this plugin
	core.RegisterFilter("regex", NewRegexFilterFromConfig)
}

// Config represents regex filter configuration
type Config struct {
	Patterns []string `yaml:"patterns"`
	Mode     string   `yaml:"mode,omitempty"`  // "include" or "exclude"
	Field    string   `yaml:"field,omitempty"` // "message", "level", "label", "source", "file", "payload" or "all"
}

// NewRegexFilterFromConfig creates a regex filter from configuration map
func NewRegexFilterFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewRegexFilter(cfg.Patterns, cfg.Mode, cfg.Field)
}

// NewRegexFilter creates a new regex gate. A record matches when any pattern
// matches the selected field.
func NewRegexFilter(patterns []string, mode string, field string) (core.Sink[[]byte, []byte], error) {
	if mode == "" {
		mode = "include"
	}
	if field == "" {
		field = "message"
	}

	var action match.Action
	switch mode {
	case "include":
		action = match.ActionAllow
	case "exclude":
		action = match.ActionDeny
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	transform, err := selectField(field)
	if err != nil {
		return nil, err
	}

	predicates := make([]match.Predicate[string], 0, len(patterns))
	for _, pattern := range patterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		predicates = append(predicates, compiled.MatchString)
	}

	return match.Gate(transform, match.AnyOf(predicates...), action), nil
}

func selectField(field string) (match.Transform[[]byte, string], error) {
	switch field {
	case "message":
		return match.Message[[]byte], nil
	case "level":
		return func(r core.Record[[]byte]) string { return r.Entry.Level.String() }, nil
	case "label":
		return match.Label[[]byte], nil
	case "source":
		return match.Source[[]byte], nil
	case "file":
		return match.Path[[]byte], nil
	case "payload":
		return match.Text, nil
	case "all":
		return func(r core.Record[[]byte]) string { return r.Entry.Level.String() + " " + r.Entry.Message }, nil
	}
	return nil, fmt.Errorf("unknown field %q", field)
}
