// Package renderers contains the built-in Renderer plugins for JSON, HTML and
// plain text responses.
package renderers

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/mvc"
)

// Content types served by the built-in renderers.
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"
	ContentTypeText = "text/plain"
)

// ViewExt is appended to a response view to find its HTML template.
const ViewExt = ".html"

// JSONRenderer writes {"status":..., "error":..., <data>...}.
//
// Attributes: indent ("true" pretty-prints).
type JSONRenderer struct {
	indent bool
}

// NewJSONRenderer builds a JSONRenderer.
func NewJSONRenderer(attrs configtree.Attributes) *JSONRenderer {
	return &JSONRenderer{indent: attrs.Get("indent") == "true"}
}

func (r *JSONRenderer) Render(resp *mvc.Response, err error) error {
	body := make(map[string]interface{}, len(resp.Data)+2)
	for k, v := range resp.Data {
		body[k] = v
	}
	body["status"] = resp.Status
	if err != nil {
		body["error"] = err.Error()
	}

	enc := json.NewEncoder(&resp.Body)
	if r.indent {
		enc.SetIndent("", "  ")
	}
	if encErr := enc.Encode(body); encErr != nil {
		return fmt.Errorf("json render: %w", encErr)
	}
	resp.ContentType = contentType(ContentTypeJSON, resp.ContentType)
	return nil
}

// HTMLRenderer executes the response's view template, or a built-in page when
// the view has no template file.
type HTMLRenderer struct {
	mu        sync.Mutex
	templates map[string]*template.Template
	fallback  *template.Template
}

const defaultPage = `<!DOCTYPE html>
<html>
<head><title>{{.Status}} {{.StatusText}}</title></head>
<body>
<h1>{{.Status}} {{.StatusText}}</h1>
{{- if .Message}}
<pre>{{.Message}}</pre>
{{- end}}
</body>
</html>
`

// NewHTMLRenderer builds an HTMLRenderer.
//
// Attributes: template, a file used instead of the built-in page when the
// view has none.
func NewHTMLRenderer(attrs configtree.Attributes) (*HTMLRenderer, error) {
	r := &HTMLRenderer{templates: make(map[string]*template.Template)}

	if path := attrs.Get("template"); path != "" {
		t, err := template.ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("html template: %w", err)
		}
		r.fallback = t
	} else {
		r.fallback = template.Must(template.New("error").Parse(defaultPage))
	}
	return r, nil
}

// View is the data handed to HTML templates.
type View struct {
	Status     int
	StatusText string
	Message    string
	Data       map[string]interface{}
}

func (r *HTMLRenderer) Render(resp *mvc.Response, err error) error {
	t, tErr := r.template(resp.View)
	if tErr != nil {
		return tErr
	}

	v := View{
		Status:     resp.Status,
		StatusText: http.StatusText(resp.Status),
		Data:       resp.Data,
	}
	if err != nil {
		v.Message = err.Error()
	}

	if execErr := t.Execute(&resp.Body, v); execErr != nil {
		return fmt.Errorf("html render: %w", execErr)
	}
	resp.ContentType = contentType(ContentTypeHTML, resp.ContentType)
	return nil
}

func (r *HTMLRenderer) template(view string) (*template.Template, error) {
	if view == "" {
		return r.fallback, nil
	}
	path := view
	if !strings.HasSuffix(path, ViewExt) {
		path += ViewExt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.templates[path]; ok {
		return t, nil
	}
	if _, err := os.Stat(path); err != nil {
		return r.fallback, nil
	}
	t, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("html view %s: %w", path, err)
	}
	r.templates[path] = t
	return t, nil
}

// TextRenderer writes a status line, the error message and sorted data
// lines.
type TextRenderer struct{}

// NewTextRenderer builds a TextRenderer.
func NewTextRenderer(configtree.Attributes) *TextRenderer {
	return &TextRenderer{}
}

func (r *TextRenderer) Render(resp *mvc.Response, err error) error {
	fmt.Fprintf(&resp.Body, "%d %s\n", resp.Status, http.StatusText(resp.Status))
	if err != nil {
		fmt.Fprintf(&resp.Body, "\n%s\n", err.Error())
	}

	if len(resp.Data) > 0 {
		keys := make([]string, 0, len(resp.Data))
		for k := range resp.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		resp.Body.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&resp.Body, "%s: %v\n", k, resp.Data[k])
		}
	}

	resp.ContentType = contentType(ContentTypeText, resp.ContentType)
	return nil
}

// contentType keeps a more specific type already on the response (for
// example one with a charset) and otherwise uses def.
func contentType(def, current string) string {
	if strings.HasPrefix(current, def) {
		return current
	}
	return def + "; charset=utf-8"
}
