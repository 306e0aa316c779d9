// Package route compiles the declared exception-to-route mappings into a
// lookup table with one mandatory default entry.
package route

import (
	"sort"
	"strconv"
	"strings"

	"github.com/armorclaw/stderr/pkg/configtree"
	errsys "github.com/armorclaw/stderr/pkg/errors"
)

// DefaultKey is the table key of the route used when no override matches.
const DefaultKey = ""

// Attribute names read from <exceptions> and <exception> nodes.
const (
	AttrClass       = "class"
	AttrController  = "controller"
	AttrView        = "view"
	AttrHTTPStatus  = "http_status"
	AttrContentType = "content_type"
	AttrErrorType   = "error_type"
)

// ErrorType is the integer error classification attached to a route. Values
// outside the named constants are kept as-is.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = 0
	ErrorTypeNotice  ErrorType = 1
	ErrorTypeWarning ErrorType = 2
	ErrorTypeFatal   ErrorType = 3
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeNotice:
		return "notice"
	case ErrorTypeWarning:
		return "warning"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return strconv.Itoa(int(t))
	}
}

// Route is the resolved controller/view/status/content-type/error-type bundle
// for one exception class or the default case.
type Route struct {
	Controller  string    `json:"controller"`
	View        string    `json:"view"`
	HTTPStatus  int       `json:"http_status"`
	ContentType string    `json:"content_type"`
	ErrorType   ErrorType `json:"error_type"`
}

// Table maps exception class names to routes. The zero value is not usable;
// tables come from Build or NewTable.
type Table struct {
	routes     map[string]Route
	overridden []string
}

// NewTable returns a table holding only def at DefaultKey.
func NewTable(def Route) *Table {
	return &Table{routes: map[string]Route{DefaultKey: def}}
}

// Build compiles a table from the <exceptions> node. The default route is read
// from the node's own attributes; each <exception> child adds an override
// keyed by its class attribute, later declarations replacing earlier ones.
// Missing attributes compile to zero values. A nil node yields a table with an
// empty default route.
func Build(node *configtree.Node) (*Table, error) {
	t := NewTable(compile(node))

	for i, child := range node.Children("exception") {
		class := child.Attr(AttrClass)
		if class == "" {
			return nil, errsys.NewBuilder(errsys.CodeMissingExceptionClass).
				WithInput("position", i).
				Build()
		}
		if _, exists := t.routes[class]; exists {
			t.overridden = append(t.overridden, class)
		}
		t.routes[class] = compile(child)
	}

	return t, nil
}

func compile(n *configtree.Node) Route {
	return Route{
		Controller:  n.Attr(AttrController),
		View:        n.Attr(AttrView),
		HTTPStatus:  atoi(n.Attr(AttrHTTPStatus)),
		ContentType: n.Attr(AttrContentType),
		ErrorType:   ErrorType(atoi(n.Attr(AttrErrorType))),
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// Lookup returns the route declared for exactly class. It does not fall back
// to the default route.
func (t *Table) Lookup(class string) (Route, bool) {
	r, ok := t.routes[class]
	return r, ok
}

// Default returns the route stored at DefaultKey.
func (t *Table) Default() Route {
	return t.routes[DefaultKey]
}

// Match returns the route for class, or the default route when none is
// declared.
func (t *Table) Match(class string) Route {
	if class != DefaultKey {
		if r, ok := t.routes[class]; ok {
			return r
		}
	}
	return t.Default()
}

// Len returns the number of entries including the default.
func (t *Table) Len() int {
	return len(t.routes)
}

// Classes returns the override keys in sorted order.
func (t *Table) Classes() []string {
	out := make([]string, 0, len(t.routes)-1)
	for k := range t.routes {
		if k != DefaultKey {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Routes returns a copy of the whole table.
func (t *Table) Routes() map[string]Route {
	out := make(map[string]Route, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

// Overridden lists classes declared more than once, once per replaced
// declaration, in the order the replacement happened.
func (t *Table) Overridden() []string {
	return append([]string(nil), t.overridden...)
}
