package plugin

import (
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/armorclaw/stderr/pkg/configtree"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/mvc"
)

// Capability is the contract a resolved instance must satisfy.
type Capability string

const (
	CapabilityReporter   Capability = "reporter"
	CapabilityRenderer   Capability = "renderer"
	CapabilityController Capability = "controller"
)

// Satisfied reports whether v implements the capability's interface.
func (c Capability) Satisfied(v interface{}) bool {
	switch c {
	case CapabilityReporter:
		_, ok := v.(mvc.Reporter)
		return ok
	case CapabilityRenderer:
		_, ok := v.(mvc.Renderer)
		return ok
	case CapabilityController:
		_, ok := v.(mvc.Controller)
		return ok
	default:
		return false
	}
}

// Descriptor is one plugin declaration read from the configuration tree.
type Descriptor struct {
	Class       string
	ContentType string
	Attributes  configtree.Attributes
}

// DescriptorFromNode reads the class and content_type attributes of n. The
// full attribute bag is kept for the factory.
func DescriptorFromNode(n *configtree.Node) Descriptor {
	var attrs configtree.Attributes
	if n != nil {
		attrs = n.Attrs.Clone()
	}
	return Descriptor{
		Class:       n.Attr("class"),
		ContentType: n.Attr("content_type"),
		Attributes:  attrs,
	}
}

// Resolver turns descriptors into validated plugin instances. Source units are
// loaded once per path; concurrent loads of the same path share one read.
type Resolver struct {
	registry *Registry
	cache    UnitCache
	group    singleflight.Group
	log      *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache replaces the default in-memory unit cache.
func WithCache(c UnitCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger used for resolution debug output.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l.WithComponent("plugin") }
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		cache:    NewMemoryCache(),
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the factory registry the resolver instantiates from.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Reset drops every cached source unit.
func (r *Resolver) Reset() {
	r.cache.Reset()
}

// CachedUnits returns the number of cached source units.
func (r *Resolver) CachedUnits() int {
	return r.cache.Len()
}

// SourcePath returns where the source unit for class is expected.
func SourcePath(basePath, class string) string {
	return filepath.Join(basePath, class+SourceExt)
}

// Resolve locates, loads, instantiates and validates the plugin declared by d.
func (r *Resolver) Resolve(d Descriptor, basePath string, capability Capability) (interface{}, error) {
	start := time.Now()
	v, err := r.resolve(d, basePath, capability)

	result := "ok"
	if err != nil {
		result = errsys.CodeOf(err)
	}
	resolutionsTotal.WithLabelValues(string(capability), result).Inc()
	resolutionDuration.WithLabelValues(string(capability)).Observe(time.Since(start).Seconds())

	return v, err
}

func (r *Resolver) resolve(d Descriptor, basePath string, capability Capability) (interface{}, error) {
	if d.Class == "" {
		return nil, errsys.NewBuilder(errsys.CodeMissingPluginClass).
			WithInput("capability", string(capability)).
			WithInput("base_path", basePath).
			Build()
	}

	path := SourcePath(basePath, d.Class)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		b := errsys.NewBuilder(errsys.CodePluginFileNotFound).
			WithMessagef("plugin source not found: %s", path).
			WithInput("class", d.Class).
			WithInput("path", path)
		if err != nil {
			b = b.Wrap(err)
		}
		return nil, b.Build()
	}

	unit, err := r.unit(path)
	if err != nil {
		return nil, errsys.NewBuilder(errsys.CodePluginUnitInvalid).
			WithInput("class", d.Class).
			WithInput("path", path).
			Wrap(err).
			Build()
	}

	factory, registered := r.registry.Lookup(d.Class)
	if !unit.Defines(d.Class) || !registered {
		return nil, errsys.NewBuilder(errsys.CodePluginClassNotFound).
			WithMessagef("plugin class %s not found in %s", d.Class, path).
			WithInput("class", d.Class).
			WithInput("defined", unit.Defines(d.Class)).
			WithInput("registered", registered).
			Build()
	}

	attrs := unit.Defaults.Clone()
	for k, v := range d.Attributes {
		attrs[k] = v
	}

	instance, err := factory(attrs)
	if err != nil {
		return nil, errsys.NewBuilder(errsys.CodePluginInitFailed).
			WithInput("class", d.Class).
			Wrap(err).
			Build()
	}

	if !capability.Satisfied(instance) {
		return nil, errsys.NewBuilder(errsys.CodePluginContractViolation).
			WithMessagef("plugin %s (%T) is not a %s", d.Class, instance, capability).
			WithInput("class", d.Class).
			WithInput("capability", string(capability)).
			Build()
	}

	r.log.Debug("plugin resolved",
		"class", d.Class,
		"capability", string(capability),
		"path", path,
	)
	return instance, nil
}

// unit returns the cached unit for path, loading it at most once even under
// concurrent callers.
func (r *Resolver) unit(path string) (*Unit, error) {
	if u, ok := r.cache.Get(path); ok {
		return u, nil
	}

	v, err, _ := r.group.Do(path, func() (interface{}, error) {
		if u, ok := r.cache.Get(path); ok {
			return u, nil
		}
		u, err := LoadUnit(path)
		if err != nil {
			unitLoadsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		unitLoadsTotal.WithLabelValues("ok").Inc()
		r.cache.Put(path, u)
		r.log.Debug("plugin unit loaded", "path", path, "types", u.Types)
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Unit), nil
}

// As resolves d and returns it as T. T is normally the interface matching
// capability; a mismatch between the two is reported as a contract violation.
func As[T any](r *Resolver, d Descriptor, basePath string, capability Capability) (T, error) {
	var zero T

	v, err := r.Resolve(d, basePath, capability)
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, errsys.NewBuilder(errsys.CodePluginContractViolation).
			WithMessagef("plugin %s (%T) does not implement %T", d.Class, v, (*T)(nil)).
			WithInput("class", d.Class).
			Build()
	}
	return t, nil
}
