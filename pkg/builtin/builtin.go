// Package builtin registers the reporters, renderers and controller shipped
// with stderr, and can scaffold their source units on disk.
package builtin

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/controllers"
	"github.com/armorclaw/stderr/pkg/eventbus"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/plugin"
	"github.com/armorclaw/stderr/pkg/renderers"
	"github.com/armorclaw/stderr/pkg/reporters"
)

// Built-in class names.
const (
	LogReporter        = "LogReporter"
	SQLiteReporter     = "SQLiteReporter"
	PrometheusReporter = "PrometheusReporter"
	StreamReporter     = "StreamReporter"
	JSONRenderer       = "JSONRenderer"
	HTMLRenderer       = "HTMLRenderer"
	TextRenderer       = "TextRenderer"
	ErrorController    = controllers.ErrorControllerClass
)

// Plugin names one built-in class and the capability it provides.
type Plugin struct {
	Class       string
	Capability  plugin.Capability
	ContentType string
}

// Plugins lists every built-in class.
func Plugins() []Plugin {
	return []Plugin{
		{Class: LogReporter, Capability: plugin.CapabilityReporter},
		{Class: SQLiteReporter, Capability: plugin.CapabilityReporter},
		{Class: PrometheusReporter, Capability: plugin.CapabilityReporter},
		{Class: StreamReporter, Capability: plugin.CapabilityReporter},
		{Class: JSONRenderer, Capability: plugin.CapabilityRenderer, ContentType: renderers.ContentTypeJSON},
		{Class: HTMLRenderer, Capability: plugin.CapabilityRenderer, ContentType: renderers.ContentTypeHTML},
		{Class: TextRenderer, Capability: plugin.CapabilityRenderer, ContentType: renderers.ContentTypeText},
		{Class: ErrorController, Capability: plugin.CapabilityController},
	}
}

type options struct {
	log        *logger.Logger
	registerer prometheus.Registerer
	bus        *eventbus.Bus
}

// Option configures the built-in factories.
type Option func(*options)

// WithLogger sets the logger handed to LogReporter and SQLiteReporter.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer sets where PrometheusReporter registers its counter.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithBus sets the bus StreamReporter publishes to. Without it
// StreamReporter fails to initialise.
func WithBus(b *eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// Register adds every built-in factory to reg.
func Register(reg *plugin.Registry, opts ...Option) {
	o := options{
		log:        logger.Global(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	reg.Register(LogReporter, func(attrs configtree.Attributes) (interface{}, error) {
		return reporters.NewLogReporter(o.log, attrs)
	})
	reg.Register(SQLiteReporter, func(attrs configtree.Attributes) (interface{}, error) {
		cfg, err := reporters.StoreConfigFromAttributes(attrs)
		if err != nil {
			return nil, err
		}
		return reporters.NewSQLiteReporter(cfg, o.log)
	})
	reg.Register(PrometheusReporter, func(attrs configtree.Attributes) (interface{}, error) {
		return reporters.NewPrometheusReporter(o.registerer, attrs)
	})
	reg.Register(StreamReporter, func(attrs configtree.Attributes) (interface{}, error) {
		return reporters.NewStreamReporter(o.bus, attrs)
	})

	reg.Register(JSONRenderer, func(attrs configtree.Attributes) (interface{}, error) {
		return renderers.NewJSONRenderer(attrs), nil
	})
	reg.Register(HTMLRenderer, func(attrs configtree.Attributes) (interface{}, error) {
		return renderers.NewHTMLRenderer(attrs)
	})
	reg.Register(TextRenderer, func(attrs configtree.Attributes) (interface{}, error) {
		return renderers.NewTextRenderer(attrs), nil
	})

	reg.Register(ErrorController, func(attrs configtree.Attributes) (interface{}, error) {
		return controllers.NewErrorController(attrs), nil
	})
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry(opts ...Option) *plugin.Registry {
	reg := plugin.NewRegistry()
	Register(reg, opts...)
	return reg
}

// WriteUnits creates an empty source unit for every built-in class in the
// directory for its capability. Existing files are left alone.
func WriteUnits(dirs map[plugin.Capability]string) ([]string, error) {
	var written []string
	for _, p := range Plugins() {
		dir, ok := dirs[p.Capability]
		if !ok || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, fmt.Errorf("failed to create plugin directory: %w", err)
		}
		path := plugin.SourcePath(dir, p.Class)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		content := fmt.Sprintf("# %s %s\ntypes = [%q]\n", p.Capability, p.Class, p.Class)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
