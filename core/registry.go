package core

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// PluginFactory is a function that creates a plugin instance from configuration
type PluginFactory func(config map[string]any) (any, error)

// Formatter is the shape registered formatters must have
type Formatter = Sink[Void, []byte]

// Transform is the shape registered filters and transforms must have
type Transform = Sink[[]byte, []byte]

// PluginRegistry manages plugin registration and instantiation
type PluginRegistry struct {
	formatters map[string]PluginFactory
	filters    map[string]PluginFactory
	transforms map[string]PluginFactory
	appenders  map[string]PluginFactory
	mu         sync.RWMutex
}

var (
	// Global plugin registry
	registry = &PluginRegistry{
		formatters: make(map[string]PluginFactory),
		filters:    make(map[string]PluginFactory),
		transforms: make(map[string]PluginFactory),
		appenders:  make(map[string]PluginFactory),
	}
)

// RegisterFormatter registers a formatter factory
func RegisterFormatter(name string, factory PluginFactory) {
	register(registry.formatters, name, factory)
}

// RegisterFilter registers a filter factory
func RegisterFilter(name string, factory PluginFactory) {
	register(registry.filters, name, factory)
}

// RegisterTransform registers a byte transform factory
func RegisterTransform(name string, factory PluginFactory) {
	register(registry.transforms, name, factory)
}

// RegisterAppender registers an appender factory
func RegisterAppender(name string, factory PluginFactory) {
	register(registry.appenders, name, factory)
}

func register(m map[string]PluginFactory, name string, factory PluginFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	m[name] = factory
}

func instantiate(kind string, m map[string]PluginFactory, pluginType string, config map[string]any) (any, error) {
	registry.mu.RLock()
	factory, exists := m[pluginType]
	registry.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownPlugin, kind, pluginType)
	}

	plugin, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s plugin %s: %w", kind, pluginType, err)
	}
	return plugin, nil
}

func wrongShape(pluginType, want string, got any) error {
	return &ContractViolation{
		Stage:  pluginType,
		Detail: fmt.Sprintf("plugin is %T, expected %s", got, want),
	}
}

// CreateFormatter creates a formatter instance
func CreateFormatter(pluginType string, config map[string]any) (Formatter, error) {
	plugin, err := instantiate("formatter", registry.formatters, pluginType, config)
	if err != nil {
		return nil, err
	}
	formatter, ok := plugin.(Formatter)
	if !ok {
		return nil, wrongShape(pluginType, "Sink[Void, []byte]", plugin)
	}
	return formatter, nil
}

// CreateFilter creates a filter instance
func CreateFilter(pluginType string, config map[string]any) (Transform, error) {
	plugin, err := instantiate("filter", registry.filters, pluginType, config)
	if err != nil {
		return nil, err
	}
	filter, ok := plugin.(Transform)
	if !ok {
		return nil, wrongShape(pluginType, "Sink[[]byte, []byte]", plugin)
	}
	return filter, nil
}

// CreateTransform creates a byte transform instance
func CreateTransform(pluginType string, config map[string]any) (Transform, error) {
	plugin, err := instantiate("transform", registry.transforms, pluginType, config)
	if err != nil {
		return nil, err
	}
	transform, ok := plugin.(Transform)
	if !ok {
		return nil, wrongShape(pluginType, "Sink[[]byte, []byte]", plugin)
	}
	return transform, nil
}

// CreateAppender creates an appender instance
func CreateAppender(pluginType string, config map[string]any) (Appender[[]byte], error) {
	plugin, err := instantiate("appender", registry.appenders, pluginType, config)
	if err != nil {
		return nil, err
	}
	appender, ok := plugin.(Appender[[]byte])
	if !ok {
		if c, isCloser := plugin.(interface{ Close() error }); isCloser {
			_ = c.Close()
		}
		return nil, wrongShape(pluginType, "Appender[[]byte]", plugin)
	}
	return appender, nil
}

// ListFormatters returns all registered formatter names
func ListFormatters() []string { return list(registry.formatters) }

// ListFilters returns all registered filter names
func ListFilters() []string { return list(registry.filters) }

// ListTransforms returns all registered transform names
func ListTransforms() []string { return list(registry.transforms) }

// ListAppenders returns all registered appender names
func ListAppenders() []string { return list(registry.appenders) }

func list(m map[string]PluginFactory) []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildPipeline assembles formatter, filters and transforms in declaration
// order. Stages already built are closed when a later one fails.
func BuildPipeline(def PipelineDefinition) (Formatter, error) {
	pipeline, err := CreateFormatter(def.Format.Type, def.Format.Config)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (Formatter, error) {
		return nil, multierr.Append(err, CloseStage(pipeline))
	}
	for _, f := range def.Filters {
		filter, err := CreateFilter(f.Type, f.Config)
		if err != nil {
			return fail(err)
		}
		pipeline = Compose(pipeline, filter)
	}
	for _, t := range def.Transforms {
		transform, err := CreateTransform(t.Type, t.Config)
		if err != nil {
			return fail(err)
		}
		pipeline = Compose(pipeline, transform)
	}
	return pipeline, nil
}

// BuildHandler assembles a pipeline and its appender
func BuildHandler(def PipelineDefinition) (*Handler[[]byte], error) {
	pipeline, err := BuildPipeline(def)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", def.Name, err)
	}
	appender, err := CreateAppender(def.Appender.Type, def.Appender.Config)
	if err != nil {
		err = multierr.Append(err, CloseStage(pipeline))
		return nil, fmt.Errorf("pipeline %s: %w", def.Name, err)
	}
	return NewHandler(def.Name, pipeline, appender, WithDefaultLabel(def.Label)), nil
}

// BuildHandlers assembles every pipeline of cfg. On error the handlers built
// so far are closed.
func BuildHandlers(cfg *Config) (*Multiplex, error) {
	handlers := make([]EventHandler, 0, len(cfg.Pipelines))
	for _, def := range cfg.Pipelines {
		h, err := BuildHandler(def)
		if err != nil {
			for _, built := range handlers {
				err = multierr.Append(err, built.Close())
			}
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return NewMultiplex(handlers...), nil
}
