package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// Mock plugins for testing
func mockFormatterFactory(config map[string]any) (any, error) {
	return messagePipeline(LevelTrace), nil
}

func mockFilterFactory(config map[string]any) (any, error) {
	shouldPass := true
	if pass, ok := config["pass"].(bool); ok {
		shouldPass = pass
	}
	return Format("mock-filter", func(r Record[[]byte]) ([]byte, bool, error) {
		return r.Payload, shouldPass, nil
	}), nil
}

func mockTransformFactory(config map[string]any) (any, error) {
	suffix, _ := config["suffix"].(string)
	return Map("mock-transform", func(r Record[[]byte]) []byte {
		return append(append([]byte(nil), r.Payload...), suffix...)
	}), nil
}

var lastMockAppender *mockAppender

func mockAppenderFactory(config map[string]any) (any, error) {
	lastMockAppender = newMockAppender()
	return lastMockAppender, nil
}

func mockErrorFactory(config map[string]any) (any, error) {
	return nil, fmt.Errorf("mock error")
}

func mockInvalidTypeFactory(config map[string]any) (any, error) {
	return "not a plugin", nil
}

func resetRegistry() {
	registry.mu.Lock()
	registry.formatters = make(map[string]PluginFactory)
	registry.filters = make(map[string]PluginFactory)
	registry.transforms = make(map[string]PluginFactory)
	registry.appenders = make(map[string]PluginFactory)
	registry.mu.Unlock()
}

// TestCreatePluginUnknownType tests the sentinel error for unknown types
func TestCreatePluginUnknownType(t *testing.T) {
	resetRegistry()

	if _, err := CreateFormatter("unknown", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("Expected ErrUnknownPlugin for formatter, got %v", err)
	}
	if _, err := CreateFilter("unknown", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("Expected ErrUnknownPlugin for filter, got %v", err)
	}
	if _, err := CreateTransform("unknown", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("Expected ErrUnknownPlugin for transform, got %v", err)
	}
	if _, err := CreateAppender("unknown", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("Expected ErrUnknownPlugin for appender, got %v", err)
	}
}

// TestCreatePluginFactoryError tests error handling when factory returns error
func TestCreatePluginFactoryError(t *testing.T) {
	resetRegistry()

	RegisterFormatter("error", mockErrorFactory)
	RegisterAppender("error", mockErrorFactory)

	_, err := CreateFormatter("error", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("Expected error from formatter factory, got %v", err)
	}
	_, err = CreateAppender("error", map[string]any{})
	if err == nil {
		t.Error("Expected error from appender factory")
	}
}

// TestCreatePluginInvalidType tests plugins of the wrong shape
func TestCreatePluginInvalidType(t *testing.T) {
	resetRegistry()

	RegisterFormatter("invalid", mockInvalidTypeFactory)
	RegisterFilter("invalid", mockInvalidTypeFactory)
	RegisterTransform("string-stage", func(map[string]any) (any, error) {
		return Passthrough[string](), nil
	})
	RegisterAppender("invalid", mockFormatterFactory)

	var cv *ContractViolation
	if _, err := CreateFormatter("invalid", nil); !errors.As(err, &cv) {
		t.Errorf("Expected ContractViolation for formatter, got %v", err)
	}
	if _, err := CreateFilter("invalid", nil); !errors.As(err, &cv) {
		t.Errorf("Expected ContractViolation for filter, got %v", err)
	}
	if _, err := CreateTransform("string-stage", nil); !errors.As(err, &cv) {
		t.Errorf("Expected ContractViolation for transform, got %v", err)
	}
	if _, err := CreateAppender("invalid", nil); !errors.As(err, &cv) {
		t.Errorf("Expected ContractViolation for appender, got %v", err)
	}
}

// TestConcurrentRegistration tests thread safety of plugin registration
func TestConcurrentRegistration(t *testing.T) {
	resetRegistry()

	var wg sync.WaitGroup
	concurrency := 10

	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func(index int) {
			defer wg.Done()
			RegisterFilter(fmt.Sprintf("filter-%d", index), mockFilterFactory)
		}(i)
		go func(index int) {
			defer wg.Done()
			RegisterAppender(fmt.Sprintf("appender-%d", index), mockAppenderFactory)
		}(i)
	}

	wg.Wait()

	if got := len(ListFilters()); got != concurrency {
		t.Errorf("Expected %d filters, got %d", concurrency, got)
	}
	if got := len(ListAppenders()); got != concurrency {
		t.Errorf("Expected %d appenders, got %d", concurrency, got)
	}
}

// TestConcurrentCreation tests thread safety of plugin creation
func TestConcurrentCreation(t *testing.T) {
	resetRegistry()

	RegisterFormatter("mock", mockFormatterFactory)
	RegisterFilter("mock", mockFilterFactory)

	var wg sync.WaitGroup
	concurrency := 100
	errs := make(chan error, concurrency*2)

	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := CreateFormatter("mock", map[string]any{}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := CreateFilter("mock", map[string]any{}); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected error during concurrent creation: %v", err)
	}
}

// TestListPlugins tests listing all registered plugins
func TestListPlugins(t *testing.T) {
	resetRegistry()

	RegisterFormatter("text", mockFormatterFactory)
	RegisterFormatter("json", mockFormatterFactory)
	RegisterTransform("gzip", mockTransformFactory)

	formatters := ListFormatters()
	if len(formatters) != 2 || formatters[0] != "json" || formatters[1] != "text" {
		t.Errorf("Expected sorted [json text], got %v", formatters)
	}
	if len(ListTransforms()) != 1 {
		t.Errorf("Expected 1 transform, got %d", len(ListTransforms()))
	}
	if len(ListFilters()) != 0 {
		t.Errorf("Expected no filters, got %d", len(ListFilters()))
	}
}

// TestPluginOverwrite tests that registering a plugin with same name overwrites it
func TestPluginOverwrite(t *testing.T) {
	resetRegistry()

	firstCalled := false
	secondCalled := false

	RegisterFormatter("test", func(config map[string]any) (any, error) {
		firstCalled = true
		return mockFormatterFactory(config)
	})
	RegisterFormatter("test", func(config map[string]any) (any, error) {
		secondCalled = true
		return mockFormatterFactory(config)
	})

	if _, err := CreateFormatter("test", map[string]any{}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if firstCalled {
		t.Error("First factory should not have been called (was overwritten)")
	}
	if !secondCalled {
		t.Error("Second factory should have been called")
	}
}

func TestBuildHandlers(t *testing.T) {
	resetRegistry()

	RegisterFormatter("mock", mockFormatterFactory)
	RegisterFilter("mock", mockFilterFactory)
	RegisterTransform("mock", mockTransformFactory)
	RegisterAppender("mock", mockAppenderFactory)

	cfg := &Config{Pipelines: []PipelineDefinition{
		{
			Name:    "main",
			Label:   "svc",
			Format:  PluginDefinition{Type: "mock"},
			Filters: []PluginDefinition{{Type: "mock", Config: map[string]any{"pass": true}}},
			Transforms: []PluginDefinition{
				{Type: "mock", Config: map[string]any{"suffix": "!"}},
				{Type: "mock", Config: map[string]any{"suffix": "\n"}},
			},
			Appender: PluginDefinition{Type: "mock"},
		},
	}}

	mux, err := BuildHandlers(cfg)
	if err != nil {
		t.Fatalf("BuildHandlers() error = %v", err)
	}
	defer mux.Close()

	if err := mux.Log(context.Background(), Event{Level: LevelInfo, Message: "hello"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	if got := string(lastMockAppender.payloads[0]); got != "svc:hello!\n" {
		t.Errorf("Expected payload %q, got %q", "svc:hello!\n", got)
	}
}

func TestBuildHandlersClosesOnError(t *testing.T) {
	resetRegistry()

	RegisterFormatter("mock", mockFormatterFactory)
	RegisterAppender("mock", mockAppenderFactory)

	cfg := &Config{Pipelines: []PipelineDefinition{
		{Name: "good", Format: PluginDefinition{Type: "mock"}, Appender: PluginDefinition{Type: "mock"}},
		{Name: "bad", Format: PluginDefinition{Type: "missing"}, Appender: PluginDefinition{Type: "mock"}},
	}}

	first := &mockAppender{}
	RegisterAppender("mock", func(map[string]any) (any, error) { return first, nil })

	if _, err := BuildHandlers(cfg); !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("Expected ErrUnknownPlugin, got %v", err)
	}
	if !first.closed {
		t.Error("Handlers built before the failure should be closed")
	}
}
