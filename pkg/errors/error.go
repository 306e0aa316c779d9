package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Severity levels for errors
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is a coded engine error with the inputs that produced it
type Error struct {
	Code     string   `json:"code"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Inputs are the values (class name, path, content type...) that led to the failure
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// FormatSummary returns a one-paragraph description including the inputs,
// sorted by key.
func (e *Error) FormatSummary() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(e.Severity)), e.Code, e.Message))
	if e.cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.cause))
	}

	if len(e.Inputs) > 0 {
		keys := make([]string, 0, len(e.Inputs))
		for k := range e.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n  %s=%v", k, e.Inputs[k]))
		}
	}

	if help := Lookup(e.Code).Help; help != "" {
		sb.WriteString("\n  help: ")
		sb.WriteString(help)
	}

	return sb.String()
}

// Builder constructs Error instances with fluent API
type Builder struct {
	err *Error
}

// NewBuilder creates a new error builder for the given code
func NewBuilder(code string) *Builder {
	def := Lookup(code)

	return &Builder{
		err: &Error{
			Code:     code,
			Category: def.Category,
			Severity: def.Severity,
			Message:  def.Message,
			Inputs:   make(map[string]interface{}),
		},
	}
}

// Wrap wraps an existing error with this code
func (b *Builder) Wrap(cause error) *Builder {
	b.err.cause = cause
	if b.err.Message == "" && cause != nil {
		b.err.Message = cause.Error()
	}
	return b
}

// WithMessage sets a custom message
func (b *Builder) WithMessage(msg string) *Builder {
	b.err.Message = msg
	return b
}

// WithMessagef sets a formatted custom message
func (b *Builder) WithMessagef(format string, args ...interface{}) *Builder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

// WithSeverity overrides the default severity
func (b *Builder) WithSeverity(sev Severity) *Builder {
	b.err.Severity = sev
	return b
}

// WithInput adds a single input value
func (b *Builder) WithInput(key string, value interface{}) *Builder {
	b.err.Inputs[key] = value
	return b
}

// Build creates the final Error
func (b *Builder) Build() *Error {
	if len(b.err.Inputs) == 0 {
		b.err.Inputs = nil
	}
	return b.err
}

// New creates a new error with just a code and message
func New(code, message string) *Error {
	return NewBuilder(code).WithMessage(message).Build()
}

// Newf creates a new error with formatted message
func Newf(code, format string, args ...interface{}) *Error {
	return NewBuilder(code).WithMessagef(format, args...).Build()
}

// Wrap wraps an error with a code
func Wrap(code string, cause error) *Error {
	return NewBuilder(code).Wrap(cause).Build()
}

// HasCode reports whether err, or any error it wraps, is an *Error with code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
