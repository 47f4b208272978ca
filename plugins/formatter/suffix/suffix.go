package suffix

import (
	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterTransform("suffix", NewSuffixFromConfig)
}

// Config represents suffix configuration
type Config struct {
	Suffix string `yaml:"suffix"`
}

// NewSuffixFromConfig creates a suffix transform from configuration map
func NewSuffixFromConfig(config map[string]any) (any, error) {
	cfg := Config{Suffix: "\n"}
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New([]byte(cfg.Suffix)), nil
}

// New returns a stage appending suffix to byte payloads
func New(suffix []byte) core.Sink[[]byte, []byte] {
	return core.Map("suffix", func(rec core.Record[[]byte]) []byte {
		out := make([]byte, 0, len(rec.Payload)+len(suffix))
		return append(append(out, rec.Payload...), suffix...)
	})
}

// String returns a stage appending suffix to string payloads
func String(suffix string) core.Sink[string, string] {
	return core.Map("suffix", func(rec core.Record[string]) string {
		return rec.Payload + suffix
	})
}
