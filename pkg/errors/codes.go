package errors

import (
	"sort"
	"sync"
)

// Engine error codes
const (
	CodeConfigurationMissing = "CFG-001"
	CodeConfigurationInvalid = "CFG-002"

	CodeMissingExceptionClass = "RTE-001"

	CodeMissingPluginClass      = "PLG-001"
	CodePluginFileNotFound      = "PLG-002"
	CodePluginClassNotFound     = "PLG-003"
	CodePluginContractViolation = "PLG-004"
	CodePluginInitFailed        = "PLG-005"
	CodePluginUnitInvalid       = "PLG-006"

	CodeMissingRendererContentType = "RND-001"

	CodeControllerFailed = "DSP-001"

	CodeSubscriberLimit    = "EVT-001"
	CodeSubscriberNotFound = "EVT-002"
	CodeBusClosed          = "EVT-003"
)

// Sentinels for use with the standard library's errors.Is. Matching is by code.
var (
	ErrConfigurationMissing       = &Error{Code: CodeConfigurationMissing}
	ErrConfigurationInvalid       = &Error{Code: CodeConfigurationInvalid}
	ErrMissingExceptionClass      = &Error{Code: CodeMissingExceptionClass}
	ErrMissingPluginClass         = &Error{Code: CodeMissingPluginClass}
	ErrPluginFileNotFound         = &Error{Code: CodePluginFileNotFound}
	ErrPluginClassNotFound        = &Error{Code: CodePluginClassNotFound}
	ErrPluginContractViolation    = &Error{Code: CodePluginContractViolation}
	ErrPluginInitFailed           = &Error{Code: CodePluginInitFailed}
	ErrPluginUnitInvalid          = &Error{Code: CodePluginUnitInvalid}
	ErrMissingRendererContentType = &Error{Code: CodeMissingRendererContentType}
	ErrControllerFailed           = &Error{Code: CodeControllerFailed}
	ErrSubscriberLimit            = &Error{Code: CodeSubscriberLimit}
	ErrSubscriberNotFound         = &Error{Code: CodeSubscriberNotFound}
	ErrBusClosed                  = &Error{Code: CodeBusClosed}
)

// CodeDefinition defines an error code's properties
type CodeDefinition struct {
	Code     string   `json:"code"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Help     string   `json:"help"`
}

var (
	registry   = make(map[string]CodeDefinition)
	registryMu sync.RWMutex
)

var defaultCodes = []CodeDefinition{
	{
		Code:     CodeConfigurationMissing,
		Category: "config",
		Severity: SeverityError,
		Message:  "configuration file not found",
		Help:     "Check the application file path in the service config or STDERR_CONFIG_FILE",
	},
	{
		Code:     CodeConfigurationInvalid,
		Category: "config",
		Severity: SeverityError,
		Message:  "configuration file is invalid",
		Help:     "Check the file syntax; routing documents may be .xml, .toml, .yaml or .yml",
	},
	{
		Code:     CodeMissingExceptionClass,
		Category: "route",
		Severity: SeverityError,
		Message:  "exception class not defined",
		Help:     "Every <exception> under <exceptions> needs a non-empty class attribute",
	},
	{
		Code:     CodeMissingPluginClass,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin class not defined",
		Help:     "Every <reporter> and <renderer> needs a non-empty class attribute",
	},
	{
		Code:     CodePluginFileNotFound,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin file not found",
		Help:     "Create <path>/<class>.plugin under the configured reporters/renderers/controllers path",
	},
	{
		Code:     CodePluginClassNotFound,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin class not found",
		Help:     "The plugin file must define the class and a factory must be registered under the same name",
	},
	{
		Code:     CodePluginContractViolation,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin does not implement the required capability",
		Help:     "Reporters implement Report, renderers implement Render, controllers implement Run",
	},
	{
		Code:     CodePluginInitFailed,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin constructor failed",
		Help:     "Check the attributes declared for the plugin",
	},
	{
		Code:     CodePluginUnitInvalid,
		Category: "plugin",
		Severity: SeverityError,
		Message:  "plugin file could not be parsed",
		Help:     "Plugin files are TOML documents and may be empty",
	},
	{
		Code:     CodeMissingRendererContentType,
		Category: "renderer",
		Severity: SeverityError,
		Message:  "renderer missing content type",
		Help:     "Every <renderer> needs a non-empty content_type attribute",
	},
	{
		Code:     CodeControllerFailed,
		Category: "dispatch",
		Severity: SeverityCritical,
		Message:  "error controller failed",
		Help:     "The controller mapped to the route returned an error; an emergency response was sent",
	},
	{
		Code:     CodeSubscriberLimit,
		Category: "events",
		Severity: SeverityWarning,
		Message:  "too many event subscribers",
		Help:     "Close idle stream connections or raise the subscriber limit",
	},
	{
		Code:     CodeSubscriberNotFound,
		Category: "events",
		Severity: SeverityWarning,
		Message:  "event subscriber not found",
	},
	{
		Code:     CodeBusClosed,
		Category: "events",
		Severity: SeverityWarning,
		Message:  "event bus is closed",
	},
}

func init() {
	for _, def := range defaultCodes {
		Register(def)
	}
}

// Register adds a new error code to the registry
func Register(def CodeDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[def.Code] = def
}

// Lookup retrieves an error code definition
func Lookup(code string) CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if def, ok := registry[code]; ok {
		return def
	}

	return CodeDefinition{
		Code:     code,
		Category: "unknown",
		Severity: SeverityError,
		Message:  "unknown error",
	}
}

// AllCodes returns all registered error codes sorted by code
func AllCodes() []CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]CodeDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// CodesByCategory returns all codes in a given category
func CodesByCategory(category string) []CodeDefinition {
	var result []CodeDefinition
	for _, def := range AllCodes() {
		if def.Category == category {
			result = append(result, def)
		}
	}
	return result
}
