// Package mvc holds the request and response values that flow through error
// handling, and the capability contracts plugins must satisfy.
package mvc

import (
	"bytes"
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/armorclaw/stderr/pkg/route"
)

// Reporter is notified of every handled error. Side effects are opaque to the
// engine; a returned error is logged and never aborts handling.
type Reporter interface {
	Report(ctx context.Context, req *Request, errorType route.ErrorType) error
}

// Renderer writes the final body for one content type into resp. err is the
// original error, or nil when errors are not to be displayed.
type Renderer interface {
	Render(resp *Response, err error) error
}

// Controller prepares the response for a routed error.
type Controller interface {
	Run(ctx context.Context, req *Request, resp *Response) error
}

// ErrorHandler turns an error into a response.
type ErrorHandler interface {
	Handle(ctx context.Context, err error) *Response
}

// Settings are the scalar values a controller or renderer may need.
type Settings interface {
	DisplayErrors() bool
	DefaultContentType() string
	ViewsPath() string
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Request describes one error being handled.
type Request struct {
	ID        string
	Err       error
	ClassName string
	Route     route.Route
	Stack     []StackFrame
	Time      time.Time
	Settings  Settings
}

// NewRequest builds a request with a fresh ID and the caller's stack. skip is
// the number of frames above NewRequest to drop.
func NewRequest(err error, className string, r route.Route, settings Settings, skip int) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Err:       err,
		ClassName: className,
		Route:     r,
		Stack:     CaptureStack(skip + 1),
		Time:      time.Now().UTC(),
		Settings:  settings,
	}
}

// Message returns the error text, or "" for a nil error.
func (r *Request) Message() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// CaptureStack captures the current call stack, skipping the specified number
// of frames above the caller. Runtime frames are dropped.
func CaptureStack(skip int) []StackFrame {
	var frames []StackFrame

	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs) // +2 to skip runtime.Callers and CaptureStack
	if n == 0 {
		return frames
	}

	callers := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callers.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if frame.Function == "main.main" || !more {
			break
		}
	}

	return frames
}

// Response is the error response under construction.
type Response struct {
	Status      int
	ContentType string
	View        string
	Headers     http.Header
	Body        bytes.Buffer

	// Data holds values the controller exposes to the renderer.
	Data map[string]interface{}
}

// NewResponse returns a response with the given content type and status 500.
func NewResponse(contentType string) *Response {
	return &Response{
		Status:      http.StatusInternalServerError,
		ContentType: contentType,
		Headers:     make(http.Header),
		Data:        make(map[string]interface{}),
	}
}

// Set stores a value for the renderer.
func (r *Response) Set(key string, value interface{}) {
	if r.Data == nil {
		r.Data = make(map[string]interface{})
	}
	r.Data[key] = value
}

// Status returns code when it can be written as an HTTP status line and
// 500 otherwise. Routes accept any integer, net/http only 100-999.
func Status(code int) int {
	if code < 100 || code > 999 {
		return http.StatusInternalServerError
	}
	return code
}

// Send copies status, headers and body to w.
func (r *Response) Send(w http.ResponseWriter) {
	for k, vs := range r.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.WriteHeader(Status(r.Status))
	_, _ = w.Write(r.Body.Bytes())
}
