package compress

import (
	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin under its generic name and per algorithm
	core.RegisterTransform("compress", NewCompressorFromConfig)
	for _, algorithm := range Algorithms() {
		algorithm := algorithm
		core.RegisterTransform(algorithm, func(config map[string]any) (any, error) {
			merged := map[string]any{"algorithm": algorithm}
			for k, v := range config {
				merged[k] = v
			}
			return NewCompressorFromConfig(merged)
		})
	}
}

// Config represents compression configuration
type Config struct {
	Algorithm string `yaml:"algorithm"` // gzip, zstd, s2, lz4 or brotli
	Level     int    `yaml:"level"`     // 0 selects the codec default
}

// NewCompressorFromConfig creates a compressor from configuration map
func NewCompressorFromConfig(config map[string]any) (any, error) {
	cfg := Config{Algorithm: "gzip"}
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	codec, err := NewCodec(cfg.Algorithm, cfg.Level)
	if err != nil {
		return nil, err
	}
	return NewCompressor(codec), nil
}

// Compressor is a stage compressing byte payloads. An empty payload becomes
// the codec's encoding of an empty input.
type Compressor struct {
	codec Codec
}

// NewCompressor creates a new compressor
func NewCompressor(codec Codec) *Compressor {
	return &Compressor{codec: codec}
}

func (c *Compressor) Name() string { return "compress/" + c.codec.Name() }

func (c *Compressor) BeforeSink(*core.Entry) {}

// Sink compresses the payload; codec errors fail the entry
func (c *Compressor) Sink(rec core.Record[[]byte], next core.Next[[]byte]) {
	core.Emit(c.Name(), rec, next, func(rec core.Record[[]byte]) ([]byte, bool, error) {
		out, err := c.codec.Compress(rec.Payload)
		return out, true, err
	})
}
