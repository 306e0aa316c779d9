package plugin

import (
	"io"
	"mime"
	"strings"

	"github.com/armorclaw/stderr/pkg/configtree"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/mvc"
)

// Child element names enumerated under the reporters and renderers nodes.
const (
	ReporterElement = "reporter"
	RendererElement = "renderer"
)

// ResolveReporters resolves every reporter declared under node, which must
// already be scoped to the active environment. Declaration order is kept. A
// nil node or one without reporters yields an empty collection. When a
// declaration fails, reporters already built are closed before returning.
func ResolveReporters(r *Resolver, node *configtree.Node, basePath string) ([]mvc.Reporter, error) {
	decls := node.Children(ReporterElement)
	out := make([]mvc.Reporter, 0, len(decls))

	for _, n := range decls {
		rep, err := As[mvc.Reporter](r, DescriptorFromNode(n), basePath, CapabilityReporter)
		if err != nil {
			for _, built := range out {
				if c, ok := built.(io.Closer); ok {
					if cerr := c.Close(); cerr != nil {
						r.log.Warn("failed to close reporter", "error", cerr)
					}
				}
			}
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

// ResolveRenderers resolves every renderer declared under node into a map
// keyed by content type. Every declaration must carry a content_type; this is
// checked before anything is instantiated. A later declaration for the same
// content type replaces an earlier one.
func ResolveRenderers(r *Resolver, node *configtree.Node, basePath string) (map[string]mvc.Renderer, error) {
	decls, err := rendererDescriptors(node)
	if err != nil {
		return nil, err
	}

	out := make(map[string]mvc.Renderer, len(decls))
	for _, d := range decls {
		rnd, err := As[mvc.Renderer](r, d, basePath, CapabilityRenderer)
		if err != nil {
			return nil, err
		}
		out[d.ContentType] = rnd
	}
	return out, nil
}

// FindRenderer resolves only the renderer declared for contentType. Both sides
// are compared as media types, so parameters and case are ignored. When more
// than one declaration matches, the last one is used. No match returns
// (nil, nil).
func FindRenderer(r *Resolver, node *configtree.Node, basePath, contentType string) (mvc.Renderer, error) {
	decls, err := rendererDescriptors(node)
	if err != nil {
		return nil, err
	}

	want := MediaType(contentType)
	var match *Descriptor
	for i := range decls {
		if MediaType(decls[i].ContentType) == want {
			match = &decls[i]
		}
	}
	if match == nil {
		return nil, nil
	}

	return As[mvc.Renderer](r, *match, basePath, CapabilityRenderer)
}

// MediaType reduces a content type to its lower-case media type, dropping
// parameters such as charset.
func MediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func rendererDescriptors(node *configtree.Node) ([]Descriptor, error) {
	children := node.Children(RendererElement)
	decls := make([]Descriptor, 0, len(children))

	for i, n := range children {
		d := DescriptorFromNode(n)
		if d.ContentType == "" {
			return nil, errsys.NewBuilder(errsys.CodeMissingRendererContentType).
				WithInput("class", d.Class).
				WithInput("position", i).
				Build()
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// DuplicateContentTypes lists content types declared by more than one
// renderer, once per replaced declaration.
func DuplicateContentTypes(node *configtree.Node) []string {
	seen := make(map[string]bool)
	var dups []string
	for _, n := range node.Children(RendererElement) {
		ct := DescriptorFromNode(n).ContentType
		if ct == "" {
			continue
		}
		if seen[ct] {
			dups = append(dups, ct)
		}
		seen[ct] = true
	}
	return dups
}
