// Package controllers contains the default error controller.
package controllers

import (
	"context"
	"path/filepath"
	"time"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/mvc"
)

// ErrorControllerClass is the class name the dispatcher falls back to when a
// route names no controller.
const ErrorControllerClass = "ErrorController"

// ErrorController applies the route to the response: status, view and content
// type. Error details are only exposed when the settings allow it.
type ErrorController struct{}

// NewErrorController builds an ErrorController. It takes no attributes.
func NewErrorController(configtree.Attributes) *ErrorController {
	return &ErrorController{}
}

// Run implements mvc.Controller.
func (c *ErrorController) Run(_ context.Context, req *mvc.Request, resp *mvc.Response) error {
	r := req.Route

	resp.Status = mvc.Status(r.HTTPStatus)
	if r.ContentType != "" {
		resp.ContentType = r.ContentType
	}
	if r.View != "" {
		resp.View = r.View
		if req.Settings != nil && req.Settings.ViewsPath() != "" && !filepath.IsAbs(r.View) {
			resp.View = filepath.Join(req.Settings.ViewsPath(), r.View)
		}
	}

	resp.Headers.Set("X-Request-ID", req.ID)
	resp.Set("request_id", req.ID)
	resp.Set("time", req.Time.Format(time.RFC3339))

	if req.Settings != nil && req.Settings.DisplayErrors() {
		resp.Set("class", req.ClassName)
		resp.Set("error_type", r.ErrorType.String())
		if len(req.Stack) > 0 {
			resp.Set("stack", req.Stack)
		}
	}
	return nil
}
