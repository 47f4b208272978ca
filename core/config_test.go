package core

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  format: json
metrics:
  enabled: true
  address: ":9100"
pipelines:
  - name: errors
    label: api
    format:
      type: json
    filters:
      - type: level
        config:
          min_level: warning
    transforms:
      - type: gzip
        config:
          level: 5
    appender:
      type: file
      config:
        path: /var/log/errors.log.gz
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("expected logging level debug, got '%s'", config.Logging.Level)
	}
	if !config.Metrics.Enabled || config.Metrics.Address != ":9100" {
		t.Errorf("unexpected metrics config %+v", config.Metrics)
	}
	if len(config.Pipelines) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(config.Pipelines))
	}

	p := config.Pipelines[0]
	if p.Name != "errors" || p.Label != "api" {
		t.Errorf("unexpected pipeline header %q/%q", p.Name, p.Label)
	}
	if p.Format.Type != "json" {
		t.Errorf("expected format json, got '%s'", p.Format.Type)
	}
	if len(p.Filters) != 1 || p.Filters[0].Config["min_level"] != "warning" {
		t.Errorf("unexpected filters %+v", p.Filters)
	}
	if len(p.Transforms) != 1 || p.Transforms[0].Type != "gzip" {
		t.Errorf("unexpected transforms %+v", p.Transforms)
	}
	if p.Appender.Config["path"] != "/var/log/errors.log.gz" {
		t.Errorf("unexpected appender config %+v", p.Appender.Config)
	}
}

func TestLoadTOMLConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "warn"

[[pipelines]]
name = "console"

[pipelines.format]
type = "text"

[[pipelines.transforms]]
type = "suffix"
config = { suffix = "\n" }

[pipelines.appender]
type = "console"
config = { target = "stderr", color = true }
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if config.Logging.Level != "warn" {
		t.Errorf("expected logging level warn, got '%s'", config.Logging.Level)
	}
	p := config.Pipelines[0]
	if p.Format.Type != "text" || p.Appender.Type != "console" {
		t.Errorf("unexpected pipeline %+v", p)
	}
	if p.Transforms[0].Config["suffix"] != "\n" {
		t.Errorf("unexpected suffix config %+v", p.Transforms[0].Config)
	}

	var target struct {
		Target string `yaml:"target"`
		Color  bool   `yaml:"color"`
	}
	if err := GetPluginConfig(p.Appender.Config, &target); err != nil {
		t.Fatalf("failed to get plugin config: %v", err)
	}
	if target.Target != "stderr" || !target.Color {
		t.Errorf("unexpected decoded appender config %+v", target)
	}
}

func TestGetPluginConfig(t *testing.T) {
	type TestWebhookConfig struct {
		URL      string        `yaml:"url"`
		Channel  string        `yaml:"channel"`
		Timeout  time.Duration `yaml:"timeout"`
		Retries  int           `yaml:"retries"`
		Insecure bool          `yaml:"insecure"`
	}

	pluginConfig := map[string]any{
		"url":      "https://hooks.slack.com/services/xxx",
		"channel":  "#alerts",
		"timeout":  "30s",
		"retries":  "3",
		"insecure": "true",
	}

	var cfg TestWebhookConfig
	if err := GetPluginConfig(pluginConfig, &cfg); err != nil {
		t.Fatalf("failed to get plugin config: %v", err)
	}

	if cfg.URL != "https://hooks.slack.com/services/xxx" {
		t.Errorf("expected url, got '%s'", cfg.URL)
	}
	if cfg.Channel != "#alerts" {
		t.Errorf("expected channel '#alerts', got '%s'", cfg.Channel)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.Retries != 3 {
		t.Errorf("expected retries 3, got %d", cfg.Retries)
	}
	if !cfg.Insecure {
		t.Error("expected insecure true")
	}
}

func TestGetPluginConfigWithComplexStructs(t *testing.T) {
	type TestKafkaConfig struct {
		Brokers []string          `yaml:"brokers"`
		Headers map[string]string `yaml:"headers"`
		Topic   string            `yaml:"topic"`
	}

	pluginConfig := map[string]any{
		"brokers": []any{"kafka-1:9092", "kafka-2:9092"},
		"headers": map[string]any{
			"app": "myapp",
			"env": "prod",
		},
		"topic": "logs",
	}

	var cfg TestKafkaConfig
	if err := GetPluginConfig(pluginConfig, &cfg); err != nil {
		t.Fatalf("failed to get plugin config: %v", err)
	}

	if len(cfg.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(cfg.Brokers))
	}
	if cfg.Topic != "logs" {
		t.Errorf("expected topic 'logs', got '%s'", cfg.Topic)
	}
	if cfg.Headers["app"] != "myapp" {
		t.Errorf("expected header app='myapp', got '%s'", cfg.Headers["app"])
	}

	// Comma separated strings become slices
	if err := GetPluginConfig(map[string]any{"brokers": "a:1,b:2"}, &cfg); err != nil {
		t.Fatalf("failed to get plugin config: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:2" {
		t.Errorf("expected brokers from string, got %v", cfg.Brokers)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if len(config.Pipelines) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(config.Pipelines))
	}
	if config.Pipelines[0].Format.Type != "text" {
		t.Errorf("expected format type 'text', got '%s'", config.Pipelines[0].Format.Type)
	}
	if config.Pipelines[0].Appender.Type != "console" {
		t.Errorf("expected appender type 'console', got '%s'", config.Pipelines[0].Appender.Type)
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() PipelineDefinition {
		return PipelineDefinition{
			Name:     "p",
			Format:   PluginDefinition{Type: "text"},
			Appender: PluginDefinition{Type: "console"},
		}
	}

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid",
			config: Config{Pipelines: []PipelineDefinition{valid()}},
		},
		{
			name:    "no pipelines",
			config:  Config{},
			wantErr: "Pipelines",
		},
		{
			name: "missing name",
			config: Config{Pipelines: []PipelineDefinition{func() PipelineDefinition {
				p := valid()
				p.Name = ""
				return p
			}()}},
			wantErr: "Name",
		},
		{
			name: "missing appender type",
			config: Config{Pipelines: []PipelineDefinition{func() PipelineDefinition {
				p := valid()
				p.Appender.Type = ""
				return p
			}()}},
			wantErr: "Appender",
		},
		{
			name: "filter without type",
			config: Config{Pipelines: []PipelineDefinition{func() PipelineDefinition {
				p := valid()
				p.Filters = []PluginDefinition{{}}
				return p
			}()}},
			wantErr: "Filters",
		},
		{
			name:    "duplicate names",
			config:  Config{Pipelines: []PipelineDefinition{valid(), valid()}},
			wantErr: "duplicate pipeline name",
		},
		{
			name: "metrics without address",
			config: Config{
				Metrics:   MetricsConfig{Enabled: true},
				Pipelines: []PipelineDefinition{valid()},
			},
			wantErr: "Address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, expected it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigValidation(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "pipelines: []\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for config without pipelines")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path = writeConfig(t, "broken.yaml", "pipelines: [\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestConfigWatcher(t *testing.T) {
	path := writeConfig(t, "watch.yaml", `
pipelines:
  - name: first
    format: {type: text}
    appender: {type: console}
`)

	var mu sync.Mutex
	var reloaded *Config
	done := make(chan struct{}, 1)

	watcher, err := NewConfigWatcher(path, func(c *Config) {
		mu.Lock()
		reloaded = c
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	// Ensure a different modification time
	time.Sleep(50 * time.Millisecond)
	err = os.WriteFile(path, []byte(`
pipelines:
  - name: second
    format: {type: text}
    appender: {type: console}
`), 0o644)
	if err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	future := time.Now().Add(time.Second)
	_ = os.Chtimes(path, future, future)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("config reload was not triggered")
	}

	mu.Lock()
	defer mu.Unlock()
	if reloaded.Pipelines[0].Name != "second" {
		t.Errorf("expected reloaded pipeline 'second', got '%s'", reloaded.Pipelines[0].Name)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"defaults", LoggingConfig{}, false},
		{"console debug", LoggingConfig{Level: "debug", Format: "console"}, false},
		{"development", LoggingConfig{Development: true}, false},
		{"bad level", LoggingConfig{Level: "loud"}, true},
		{"bad format", LoggingConfig{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if logger != nil {
				_ = logger.Sync()
			}
		})
	}
}
