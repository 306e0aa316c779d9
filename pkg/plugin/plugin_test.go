package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/stderr/pkg/configtree"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/route"
)

type fakeReporter struct {
	name  string
	attrs configtree.Attributes
}

func (f *fakeReporter) Report(context.Context, *mvc.Request, route.ErrorType) error { return nil }

type fakeRenderer struct {
	name string
}

func (f *fakeRenderer) Render(resp *mvc.Response, _ error) error {
	resp.Body.WriteString(f.name)
	return nil
}

// closingReporter counts Close calls on a shared counter.
type closingReporter struct {
	fakeReporter
	closed *atomic.Int32
}

func (c *closingReporter) Close() error {
	c.closed.Add(1)
	return nil
}

type notAPlugin struct{}

// fixture is a plugin directory plus a registry whose factories count
// instantiations per class.
type fixture struct {
	dir      string
	registry *Registry
	mu       sync.Mutex
	built    map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:      t.TempDir(),
		registry: NewRegistry(),
		built:    make(map[string]int),
	}
	for _, name := range []string{"FileReporter", "MailReporter"} {
		f.addReporter(t, name)
	}
	for _, name := range []string{"Json", "Html", "Text"} {
		f.addRenderer(t, name)
	}
	return f
}

func (f *fixture) count(name string) {
	f.mu.Lock()
	f.built[name]++
	f.mu.Unlock()
}

func (f *fixture) instantiated(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[name]
}

func (f *fixture) writeUnit(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name+SourceExt), []byte(content), 0o600))
}

func (f *fixture) addReporter(t *testing.T, name string) {
	f.writeUnit(t, name, "")
	f.registry.Register(name, func(attrs configtree.Attributes) (interface{}, error) {
		f.count(name)
		return &fakeReporter{name: name, attrs: attrs}, nil
	})
}

func (f *fixture) addRenderer(t *testing.T, name string) {
	f.writeUnit(t, name, "")
	f.registry.Register(name, func(configtree.Attributes) (interface{}, error) {
		f.count(name)
		return &fakeRenderer{name: name}, nil
	})
}

func parse(t *testing.T, doc string) *configtree.Node {
	t.Helper()
	root, err := configtree.ParseXML(strings.NewReader(doc))
	require.NoError(t, err)
	return root
}

func TestResolve_Success(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)

	v, err := r.Resolve(Descriptor{Class: "Json"}, f.dir, CapabilityRenderer)
	require.NoError(t, err)
	assert.IsType(t, &fakeRenderer{}, v)
	assert.Equal(t, 1, r.CachedUnits())
}

func TestResolve_Errors(t *testing.T) {
	f := newFixture(t)
	f.writeUnit(t, "Broken", "types = [")
	f.registry.Register("Broken", func(configtree.Attributes) (interface{}, error) { return &fakeReporter{}, nil })

	f.writeUnit(t, "Unregistered", "")

	f.writeUnit(t, "Elsewhere", `types = ["Other"]`)
	f.registry.Register("Elsewhere", func(configtree.Attributes) (interface{}, error) { return &fakeReporter{}, nil })

	f.writeUnit(t, "Failing", "")
	f.registry.Register("Failing", func(configtree.Attributes) (interface{}, error) { return nil, errors.New("no database") })

	f.writeUnit(t, "Plain", "")
	f.registry.Register("Plain", func(configtree.Attributes) (interface{}, error) { return notAPlugin{}, nil })

	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "Dir"+SourceExt), 0o700))

	tests := []struct {
		name       string
		class      string
		capability Capability
		want       error
	}{
		{"missing class", "", CapabilityReporter, errsys.ErrMissingPluginClass},
		{"missing file", "Nowhere", CapabilityReporter, errsys.ErrPluginFileNotFound},
		{"directory is not a unit", "Dir", CapabilityReporter, errsys.ErrPluginFileNotFound},
		{"invalid manifest", "Broken", CapabilityReporter, errsys.ErrPluginUnitInvalid},
		{"no factory", "Unregistered", CapabilityReporter, errsys.ErrPluginClassNotFound},
		{"unit does not define class", "Elsewhere", CapabilityReporter, errsys.ErrPluginClassNotFound},
		{"factory fails", "Failing", CapabilityReporter, errsys.ErrPluginInitFailed},
		{"not a reporter", "Plain", CapabilityReporter, errsys.ErrPluginContractViolation},
		{"renderer is not a reporter", "Json", CapabilityReporter, errsys.ErrPluginContractViolation},
		{"reporter is not a controller", "FileReporter", CapabilityController, errsys.ErrPluginContractViolation},
	}

	r := NewResolver(f.registry)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := r.Resolve(Descriptor{Class: tt.class}, f.dir, tt.capability)
			assert.Nil(t, v)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolve_DefaultsUnderDeclaredAttributes(t *testing.T) {
	f := newFixture(t)
	f.writeUnit(t, "FileReporter", "[defaults]\npath = \"errors.log\"\nlevel = \"warn\"\nmax = 10\n")
	r := NewResolver(f.registry)

	rep, err := As[mvc.Reporter](r, Descriptor{
		Class:      "FileReporter",
		Attributes: configtree.Attributes{"class": "FileReporter", "level": "error"},
	}, f.dir, CapabilityReporter)
	require.NoError(t, err)

	attrs := rep.(*fakeReporter).attrs
	assert.Equal(t, "errors.log", attrs.Get("path"))
	assert.Equal(t, "error", attrs.Get("level"))
	assert.Equal(t, "10", attrs.Get("max"))
}

func TestResolve_MultiTypeUnit(t *testing.T) {
	f := newFixture(t)
	f.writeUnit(t, "Json", `types = ["Json", "JsonPretty"]`)

	u, err := LoadUnit(filepath.Join(f.dir, "Json"+SourceExt))
	require.NoError(t, err)
	assert.True(t, u.Defines("Json"))
	assert.True(t, u.Defines("JsonPretty"))
	assert.False(t, u.Defines("Html"))

	_, err = NewResolver(f.registry).Resolve(Descriptor{Class: "Json"}, f.dir, CapabilityRenderer)
	assert.NoError(t, err)
}

func TestResolve_CachesUnitsPerPath(t *testing.T) {
	f := newFixture(t)
	cache := NewMemoryCache()
	r := NewResolver(f.registry, WithCache(cache))

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(Descriptor{Class: "Json"}, f.dir, CapabilityRenderer)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 3, f.instantiated("Json"), "each resolution builds a new instance")

	// Cached units survive the file being replaced until Reset.
	f.writeUnit(t, "Json", `types = ["Other"]`)
	_, err := r.Resolve(Descriptor{Class: "Json"}, f.dir, CapabilityRenderer)
	require.NoError(t, err)

	r.Reset()
	assert.Equal(t, 0, r.CachedUnits())
	_, err = r.Resolve(Descriptor{Class: "Json"}, f.dir, CapabilityRenderer)
	assert.ErrorIs(t, err, errsys.ErrPluginClassNotFound)
}

func TestResolve_ConcurrentLoadsCollapse(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)

	before := testutil.ToFloat64(unitLoadsTotal.WithLabelValues("ok"))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(Descriptor{Class: "Html"}, f.dir, CapabilityRenderer); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, r.CachedUnits())
	assert.Equal(t, before+1, testutil.ToFloat64(unitLoadsTotal.WithLabelValues("ok")))
}

func TestAs_TypeMismatch(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)

	_, err := As[mvc.Renderer](r, Descriptor{Class: "FileReporter"}, f.dir, CapabilityReporter)
	assert.ErrorIs(t, err, errsys.ErrPluginContractViolation)
}

func TestResolveReporters_ByEnvironment(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)
	root := parse(t, `<reporters>
		<dev>
			<reporter class="FileReporter" path="dev.log"/>
			<reporter class="MailReporter" to="ops@example.com"/>
		</dev>
		<live/>
	</reporters>`)

	dev, err := ResolveReporters(r, root.Child("dev"), f.dir)
	require.NoError(t, err)
	require.Len(t, dev, 2)
	assert.Equal(t, "FileReporter", dev[0].(*fakeReporter).name)
	assert.Equal(t, "MailReporter", dev[1].(*fakeReporter).name)
	assert.Equal(t, "dev.log", dev[0].(*fakeReporter).attrs.Get("path"))

	live, err := ResolveReporters(r, root.Child("live"), f.dir)
	require.NoError(t, err)
	assert.NotNil(t, live)
	assert.Empty(t, live)

	missing, err := ResolveReporters(r, root.Child("staging"), f.dir)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestResolveReporters_SingleDeclaration(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<dev><reporter class="FileReporter"/></dev>`)

	reps, err := ResolveReporters(NewResolver(f.registry), node, f.dir)
	require.NoError(t, err)
	assert.Len(t, reps, 1)
}

func TestResolveReporters_PropagatesError(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<dev><reporter class="FileReporter"/><reporter/></dev>`)

	reps, err := ResolveReporters(NewResolver(f.registry), node, f.dir)
	assert.Nil(t, reps)
	assert.ErrorIs(t, err, errsys.ErrMissingPluginClass)
}

func TestResolveReporters_ClosesBuiltOnFailure(t *testing.T) {
	f := newFixture(t)
	var closed atomic.Int32
	f.writeUnit(t, "DBReporter", "")
	f.registry.Register("DBReporter", func(configtree.Attributes) (interface{}, error) {
		return &closingReporter{fakeReporter: fakeReporter{name: "DBReporter"}, closed: &closed}, nil
	})
	node := parse(t, `<dev>
		<reporter class="DBReporter"/>
		<reporter class="FileReporter"/>
		<reporter class="DBReporter"/>
		<reporter class="Missing"/>
	</dev>`)

	reps, err := ResolveReporters(NewResolver(f.registry), node, f.dir)
	assert.Nil(t, reps)
	assert.ErrorIs(t, err, errsys.ErrPluginFileNotFound)
	assert.Equal(t, int32(2), closed.Load())

	// Nothing is closed on success.
	closed.Store(0)
	reps, err = ResolveReporters(NewResolver(f.registry), parse(t, `<dev><reporter class="DBReporter"/></dev>`), f.dir)
	require.NoError(t, err)
	assert.Len(t, reps, 1)
	assert.Zero(t, closed.Load())
}

const renderersXML = `<renderers>
	<renderer class="Json" content_type="application/json"/>
	<renderer class="Html" content_type="text/html"/>
</renderers>`

func TestResolveRenderers(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)

	m, err := ResolveRenderers(r, parse(t, renderersXML), f.dir)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "Json", m["application/json"].(*fakeRenderer).name)
	assert.Equal(t, "Html", m["text/html"].(*fakeRenderer).name)
}

func TestResolveRenderers_LastWriterWins(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<renderers>
		<renderer class="Json" content_type="text/plain"/>
		<renderer class="Text" content_type="text/plain"/>
	</renderers>`)

	m, err := ResolveRenderers(NewResolver(f.registry), node, f.dir)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "Text", m["text/plain"].(*fakeRenderer).name)
	assert.Equal(t, []string{"text/plain"}, DuplicateContentTypes(node))
}

func TestResolveRenderers_MissingContentTypeBeforeInstantiation(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<renderers>
		<renderer class="Json" content_type="application/json"/>
		<renderer class="Html"/>
	</renderers>`)

	m, err := ResolveRenderers(NewResolver(f.registry), node, f.dir)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, errsys.ErrMissingRendererContentType)
	assert.Zero(t, f.instantiated("Json"))
	assert.Zero(t, f.instantiated("Html"))
}

func TestResolveRenderers_Empty(t *testing.T) {
	m, err := ResolveRenderers(NewResolver(NewRegistry()), nil, "")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestFindRenderer_OnlyInstantiatesMatch(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.registry)

	rnd, err := FindRenderer(r, parse(t, renderersXML), f.dir, "application/json")
	require.NoError(t, err)
	require.NotNil(t, rnd)
	assert.Equal(t, "Json", rnd.(*fakeRenderer).name)
	assert.Equal(t, 1, f.instantiated("Json"))
	assert.Zero(t, f.instantiated("Html"))
}

func TestFindRenderer_NoMatch(t *testing.T) {
	f := newFixture(t)

	rnd, err := FindRenderer(NewResolver(f.registry), parse(t, renderersXML), f.dir, "application/xml")
	assert.NoError(t, err)
	assert.Nil(t, rnd)
}

func TestFindRenderer_LastMatchWins(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<renderers>
		<renderer class="Json" content_type="text/plain"/>
		<renderer class="Text" content_type="text/plain"/>
	</renderers>`)

	rnd, err := FindRenderer(NewResolver(f.registry), node, f.dir, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "Text", rnd.(*fakeRenderer).name)
	assert.Zero(t, f.instantiated("Json"))
}

func TestFindRenderer_ComparesMediaTypes(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<renderers>
		<renderer class="Json" content_type="application/json"/>
		<renderer class="Html" content_type="text/html; charset=UTF-8"/>
	</renderers>`)
	r := NewResolver(f.registry)

	for _, ct := range []string{"text/html", "TEXT/HTML", "text/html; charset=utf-8"} {
		rnd, err := FindRenderer(r, node, f.dir, ct)
		require.NoError(t, err, ct)
		require.NotNil(t, rnd, ct)
		assert.Equal(t, "Html", rnd.(*fakeRenderer).name)
	}

	eager, err := ResolveRenderers(r, node, f.dir)
	require.NoError(t, err)
	assert.Contains(t, eager, "text/html; charset=UTF-8")
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/html", MediaType("Text/HTML; charset=UTF-8"))
	assert.Equal(t, "application/json", MediaType(" application/json "))
	assert.Equal(t, "", MediaType(""))
}

func TestFindRenderer_MissingContentType(t *testing.T) {
	f := newFixture(t)
	node := parse(t, `<renderers><renderer class="Json"/></renderers>`)

	_, err := FindRenderer(NewResolver(f.registry), node, f.dir, "application/json")
	assert.ErrorIs(t, err, errsys.ErrMissingRendererContentType)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("B", func(configtree.Attributes) (interface{}, error) { return 1, nil })
	reg.Register("A", func(configtree.Attributes) (interface{}, error) { return 2, nil })
	reg.Register("A", func(configtree.Attributes) (interface{}, error) { return 3, nil })

	assert.Equal(t, []string{"A", "B"}, reg.Names())

	fn, ok := reg.Lookup("A")
	require.True(t, ok)
	v, _ := fn(nil)
	assert.Equal(t, 3, v)

	_, ok = reg.Lookup("C")
	assert.False(t, ok)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg), "second registration is a no-op")
}
