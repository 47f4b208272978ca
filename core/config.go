package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Logging   LoggingConfig        `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig        `yaml:"metrics" toml:"metrics"`
	Pipelines []PipelineDefinition `yaml:"pipelines" toml:"pipelines"`
	Ingest    map[string]any       `yaml:"ingest,omitempty" toml:"ingest"` // HTTP ingest server; nil disables it
}

// MetricsConfig controls the prometheus endpoint of the binary
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

// Validate implements validation.Validatable
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Address, validation.When(m.Enabled, validation.Required)),
	)
}

// PipelineDefinition describes one handler: a formatter, optional filters and
// byte transforms applied in order, and the appender receiving the result
type PipelineDefinition struct {
	Name       string             `yaml:"name" toml:"name"`
	Label      string             `yaml:"label,omitempty" toml:"label"` // Used for events without a label
	Format     PluginDefinition   `yaml:"format" toml:"format"`
	Filters    []PluginDefinition `yaml:"filters,omitempty" toml:"filters"`
	Transforms []PluginDefinition `yaml:"transforms,omitempty" toml:"transforms"`
	Appender   PluginDefinition   `yaml:"appender" toml:"appender"`
}

// PluginDefinition represents a generic plugin definition
type PluginDefinition struct {
	Type   string         `yaml:"type" toml:"type"`     // Registered plugin name: "text", "gzip", "file", etc.
	Config map[string]any `yaml:"config" toml:"config"` // Dynamic configuration for the plugin
}

// Validate implements validation.Validatable
func (p PluginDefinition) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Type, validation.Required),
	)
}

// Validate implements validation.Validatable
func (p PipelineDefinition) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Format),
		validation.Field(&p.Filters),
		validation.Field(&p.Transforms),
		validation.Field(&p.Appender),
	)
}

// Validate checks the configuration before any plugin is built
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Pipelines, validation.Required),
		validation.Field(&c.Metrics),
	)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if seen[p.Name] {
			return fmt.Errorf("duplicate pipeline name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// LoadConfig loads configuration from a YAML or TOML file. The format is
// chosen by extension; anything but .toml is read as YAML.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return &config, nil
}

// GetPluginConfig decodes a plugin config map into target. Keys follow the
// target's yaml tags; strings are converted to numbers, bools and durations.
func GetPluginConfig(pluginConfig map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build plugin config decoder: %w", err)
	}

	if err := decoder.Decode(pluginConfig); err != nil {
		return fmt.Errorf("failed to decode plugin config: %w", err)
	}
	return nil
}

// DefaultConfig returns a default configuration: text lines on stdout
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Address: ":9090"},
		Pipelines: []PipelineDefinition{
			{
				Name:   "console",
				Label:  "app",
				Format: PluginDefinition{Type: "text"},
				Transforms: []PluginDefinition{
					{Type: "suffix", Config: map[string]any{"suffix": "\n"}},
				},
				Appender: PluginDefinition{
					Type:   "console",
					Config: map[string]any{"target": "stdout"},
				},
			},
		},
	}
}

// ConfigWatcher monitors a config file for changes and triggers reloads
type ConfigWatcher struct {
	filename    string
	watcher     *fsnotify.Watcher
	onReload    func(*Config)
	logger      *zap.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	lastModTime time.Time
	mu          sync.Mutex
}

// NewConfigWatcher creates a new config file watcher
func NewConfigWatcher(filename string, onReload func(*Config)) (*ConfigWatcher, error) {
	filename = filepath.Clean(filename)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	info, err := os.Stat(filename)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cw := &ConfigWatcher{
		filename:    filename,
		watcher:     watcher,
		onReload:    onReload,
		logger:      zap.L().Named("config"),
		stopCh:      make(chan struct{}),
		lastModTime: info.ModTime(),
	}

	// Watch the directory so atomic replacements are seen too
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	cw.wg.Add(1)
	go cw.watchLoop()

	return cw, nil
}

// Stop stops the config watcher
func (cw *ConfigWatcher) Stop() {
	close(cw.stopCh)
	cw.watcher.Close()
	cw.wg.Wait()
}

func (cw *ConfigWatcher) watchLoop() {
	defer cw.wg.Done()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.handleFileChange()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("watcher error", zap.Error(err))

		case <-cw.stopCh:
			return
		}
	}
}

func (cw *ConfigWatcher) handleFileChange() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.filename)
	if err != nil {
		cw.logger.Warn("cannot stat config file", zap.Error(err))
		return
	}
	if info.ModTime().Equal(cw.lastModTime) {
		return
	}
	cw.lastModTime = info.ModTime()

	// Give the writer time to finish
	time.Sleep(100 * time.Millisecond)

	config, err := LoadConfig(cw.filename)
	if err != nil {
		cw.logger.Error("reload failed, keeping current config", zap.Error(err))
		return
	}

	cw.logger.Info("config file changed, reloading", zap.String("file", cw.filename))
	cw.onReload(config)
}
