// Package dispatch turns errors into HTTP responses using a resolved
// configuration: it routes the error, notifies reporters, runs the routed
// controller and renders the result.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/armorclaw/stderr/pkg/controllers"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/plugin"
	"github.com/armorclaw/stderr/pkg/route"
)

// Source is what the front controller needs from a resolved configuration.
// *app.Application satisfies it.
type Source interface {
	mvc.Settings
	Routes() *route.Table
	Reporters() []mvc.Reporter
	Controller(class string) (mvc.Controller, error)
	FindRenderer(contentType string) (mvc.Renderer, error)
}

const emergencyContentType = "text/plain; charset=utf-8"

// FrontController routes errors through the configured pipeline.
type FrontController struct {
	src Source
	log *logger.Logger
}

var _ mvc.ErrorHandler = (*FrontController)(nil)

// Option configures a FrontController.
type Option func(*FrontController)

// WithLogger sets the logger for reporter and rendering failures.
func WithLogger(l *logger.Logger) Option {
	return func(f *FrontController) { f.log = l }
}

// New returns a front controller over src.
func New(src Source, opts ...Option) *FrontController {
	f := &FrontController{src: src}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.Global()
	}
	f.log = f.log.WithComponent("dispatch")
	return f
}

type classNamer interface {
	ClassName() string
}

// ClassName returns the routing class of err. Errors may name themselves with
// a ClassName method; otherwise the dynamic type is used without its pointer
// prefix, e.g. "fs.PathError".
func ClassName(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := err.(classNamer); ok {
		if name := c.ClassName(); name != "" {
			return name
		}
	}
	return strings.TrimLeft(fmt.Sprintf("%T", err), "*")
}

// Match finds the route for err. The error's own class is tried first, then
// the class of every error it wraps in depth-first order, then the default.
// The returned class is the error's own.
func (f *FrontController) Match(err error) (string, route.Route) {
	class := ClassName(err)
	routes := f.src.Routes()
	if routes == nil {
		return class, route.Route{}
	}

	var found *route.Route
	walk(err, func(e error) bool {
		if r, ok := routes.Lookup(ClassName(e)); ok {
			found = &r
			return false
		}
		return true
	})
	if found != nil {
		return class, *found
	}
	return class, routes.Default()
}

// walk visits err and its wrapped errors until fn returns false.
func walk(err error, fn func(error) bool) bool {
	if err == nil {
		return true
	}
	if !fn(err) {
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walk(u.Unwrap(), fn)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if !walk(e, fn) {
				return false
			}
		}
	}
	return true
}

// Handle implements mvc.ErrorHandler. It always returns a response; failures
// inside the pipeline degrade to a plain-text emergency body.
func (f *FrontController) Handle(ctx context.Context, err error) *mvc.Response {
	class, rt := f.Match(err)
	req := mvc.NewRequest(err, class, rt, f.src, 1)
	log := f.log.WithRequestID(req.ID)

	for _, rep := range f.src.Reporters() {
		if rerr := rep.Report(ctx, req, rt.ErrorType); rerr != nil {
			log.Warn("reporter failed", "reporter", fmt.Sprintf("%T", rep), "error", rerr)
		}
	}

	resp := mvc.NewResponse("")
	if cerr := f.runController(ctx, req, resp); cerr != nil {
		log.ErrorEvent(ctx, "controller failed", cerr)
		return f.emergency(resp, err)
	}

	ct := resp.ContentType
	if ct == "" {
		ct = rt.ContentType
	}
	if ct == "" {
		ct = f.src.DefaultContentType()
	}
	resp.ContentType = ct

	rnd, rerr := f.src.FindRenderer(plugin.MediaType(ct))
	if rerr != nil {
		log.ErrorEvent(ctx, "renderer resolution failed", rerr)
		return f.emergency(resp, err)
	}
	if rnd == nil {
		log.Warn("no renderer for content type", "content_type", ct)
		return f.emergency(resp, err)
	}

	var shown error
	if f.src.DisplayErrors() {
		shown = err
	}
	if rerr := rnd.Render(resp, shown); rerr != nil {
		log.ErrorEvent(ctx, "renderer failed", rerr)
		return f.emergency(resp, err)
	}
	return resp
}

func (f *FrontController) runController(ctx context.Context, req *mvc.Request, resp *mvc.Response) error {
	name := req.Route.Controller
	if name == "" {
		name = controllers.ErrorControllerClass
	}

	ctrl, err := f.controller(req.Route.Controller)
	if err != nil {
		return errsys.NewBuilder(errsys.CodeControllerFailed).
			WithMessagef("controller %s could not be resolved", name).
			WithSeverity(errsys.SeverityError).
			WithInput("controller", name).
			Wrap(err).
			Build()
	}
	if err := ctrl.Run(ctx, req, resp); err != nil {
		return errsys.NewBuilder(errsys.CodeControllerFailed).
			WithMessagef("controller %s failed", name).
			WithInput("controller", name).
			Wrap(err).
			Build()
	}
	return nil
}

// controller resolves a named controller. Routes without one get the built-in
// ErrorController, which needs no source unit on disk.
func (f *FrontController) controller(name string) (mvc.Controller, error) {
	if name == "" {
		return controllers.NewErrorController(nil), nil
	}
	return f.src.Controller(name)
}

// emergency replaces the body with plain text. The status set so far is kept
// when it is writable.
func (f *FrontController) emergency(resp *mvc.Response, err error) *mvc.Response {
	resp.Status = mvc.Status(resp.Status)
	resp.ContentType = emergencyContentType
	resp.Body.Reset()

	fmt.Fprintf(&resp.Body, "%d %s\n", resp.Status, http.StatusText(resp.Status))
	if f.src.DisplayErrors() && err != nil {
		fmt.Fprintf(&resp.Body, "\n%s: %s\n", ClassName(err), err.Error())
	}
	return resp
}

// PanicError carries a recovered panic value through the pipeline.
type PanicError struct {
	Value interface{}
	Stack []mvc.StackFrame
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error so routes for it still match.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ClassName implements the routing class for panics.
func (e *PanicError) ClassName() string {
	return "PanicError"
}

func recovered(v interface{}) error {
	return &PanicError{Value: v, Stack: mvc.CaptureStack(1)}
}

// HandlerFunc is an HTTP handler that may fail.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts h to http.Handler, sending any returned error through Handle.
// A handler that returns an error must not have written the response.
func (f *FrontController) Wrap(h HandlerFunc) http.Handler {
	return f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			f.Handle(r.Context(), err).Send(w)
		}
	}))
}

// Middleware recovers panics in next and answers them through Handle.
// http.ErrAbortHandler is re-raised.
func (f *FrontController) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			f.Handle(r.Context(), recovered(v)).Send(w)
		}()
		next.ServeHTTP(w, r)
	})
}
