// Package app is the configuration facade: it reads the error-routing
// document once, resolves every reporter, renderer and route for one
// environment, and exposes the results read-only.
package app

import (
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/armorclaw/stderr/pkg/builtin"
	"github.com/armorclaw/stderr/pkg/configtree"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/plugin"
	"github.com/armorclaw/stderr/pkg/route"
)

// Application holds everything resolved from the configuration for one
// environment. It is immutable after New returns and safe to share.
type Application struct {
	env  string
	tree *configtree.Node

	displayErrors      bool
	defaultContentType string
	controllersPath    string
	viewsPath          string
	reportersPath      string
	renderersPath      string

	reporters []mvc.Reporter
	renderers map[string]mvc.Renderer
	routes    *route.Table

	resolver *plugin.Resolver
	baseDir  string
	log      *logger.Logger
}

var _ mvc.Settings = (*Application)(nil)

// Option configures New.
type Option func(*Application)

// WithResolver sets the plugin resolver. The default resolves the built-in
// plugins only.
func WithResolver(r *plugin.Resolver) Option {
	return func(a *Application) { a.resolver = r }
}

// WithLogger sets the logger used for startup diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(a *Application) { a.log = l }
}

// WithBaseDir resolves relative plugin and view paths against dir.
func WithBaseDir(dir string) Option {
	return func(a *Application) { a.baseDir = dir }
}

// New resolves tree for env. Steps run in a fixed order: display errors,
// default content type, paths, reporters, renderers, routes. The first
// failure aborts and is returned.
func New(tree *configtree.Node, env string, opts ...Option) (*Application, error) {
	a := &Application{env: env, tree: tree}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Global()
	}
	a.log = a.log.WithComponent("app").WithEnvironment(env)
	if a.resolver == nil {
		a.resolver = plugin.NewResolver(builtin.NewRegistry(builtin.WithLogger(a.log)), plugin.WithLogger(a.log))
	}

	if tree == nil {
		return nil, errsys.NewBuilder(errsys.CodeConfigurationMissing).
			WithMessage("no configuration tree").
			Build()
	}

	a.displayErrors = parseFlag(tree.Value("application", "display_errors", env))
	a.defaultContentType = tree.Value("application", "default_content_type")

	a.controllersPath = a.path("controllers")
	a.viewsPath = a.path("views")
	a.reportersPath = a.path("reporters")
	a.renderersPath = a.path("renderers")

	var err error
	a.reporters, err = plugin.ResolveReporters(a.resolver, tree.Lookup("reporters", env), a.reportersPath)
	if err != nil {
		return nil, err
	}

	renderersNode := tree.Child("renderers")
	a.renderers, err = plugin.ResolveRenderers(a.resolver, renderersNode, a.renderersPath)
	if err != nil {
		a.closeReporters()
		return nil, err
	}
	for _, ct := range plugin.DuplicateContentTypes(renderersNode) {
		a.log.Warn("renderer declared more than once; last declaration wins", "content_type", ct)
	}

	a.routes, err = route.Build(tree.Child("exceptions"))
	if err != nil {
		a.closeReporters()
		return nil, err
	}
	for _, class := range a.routes.Overridden() {
		a.log.Warn("exception route declared more than once; last declaration wins", "class", class)
	}

	a.log.Debug("configuration resolved",
		"display_errors", a.displayErrors,
		"reporters", len(a.reporters),
		"renderers", len(a.renderers),
		"routes", a.routes.Len(),
	)
	return a, nil
}

// Load reads the configuration file at path and calls New. Relative paths in
// the file are resolved against the file's directory unless WithBaseDir is
// given.
func Load(path, env string, opts ...Option) (*Application, error) {
	tree, err := configtree.LoadFile(path)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithBaseDir(filepath.Dir(path))}, opts...)
	return New(tree, env, opts...)
}

func (a *Application) path(name string) string {
	p := a.tree.Value("application", "paths", name)
	if p == "" || a.baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.baseDir, p)
}

// parseFlag reads a boolean leaf. Anything strconv.ParseBool rejects counts
// as true when non-empty and not "0".
func parseFlag(s string) bool {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}

func (a *Application) Environment() string        { return a.env }
func (a *Application) Tree() *configtree.Node     { return a.tree }
func (a *Application) DisplayErrors() bool        { return a.displayErrors }
func (a *Application) DefaultContentType() string { return a.defaultContentType }
func (a *Application) ControllersPath() string    { return a.controllersPath }
func (a *Application) ViewsPath() string          { return a.viewsPath }
func (a *Application) ReportersPath() string      { return a.reportersPath }
func (a *Application) RenderersPath() string      { return a.renderersPath }
func (a *Application) Routes() *route.Table       { return a.routes }
func (a *Application) Resolver() *plugin.Resolver { return a.resolver }

// Reporters returns the reporters for the environment in declaration order.
func (a *Application) Reporters() []mvc.Reporter {
	return append([]mvc.Reporter(nil), a.reporters...)
}

// Renderers returns a copy of the eagerly resolved renderer map.
func (a *Application) Renderers() map[string]mvc.Renderer {
	out := make(map[string]mvc.Renderer, len(a.renderers))
	for k, v := range a.renderers {
		out[k] = v
	}
	return out
}

// FindRenderer resolves a fresh renderer for contentType from the declared
// renderers. The eager map is not consulted or modified. No declaration for
// contentType returns (nil, nil).
func (a *Application) FindRenderer(contentType string) (mvc.Renderer, error) {
	return plugin.FindRenderer(a.resolver, a.tree.Child("renderers"), a.renderersPath, contentType)
}

// Controller resolves the named controller from the controllers path.
func (a *Application) Controller(class string) (mvc.Controller, error) {
	return plugin.As[mvc.Controller](a.resolver, plugin.Descriptor{Class: class}, a.controllersPath, plugin.CapabilityController)
}

// Close releases reporters that hold resources.
func (a *Application) Close() error {
	return a.closeReporters()
}

func (a *Application) closeReporters() error {
	var errs []error
	for _, r := range a.reporters {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
