// Package errors provides the structured error taxonomy used while resolving
// error routes and plugins.
//
// # Overview
//
// Every failure raised by the engine is an *Error carrying a code from the
// registry:
//   - CFG-001 to CFG-099: configuration source errors
//   - RTE-001 to RTE-099: route table errors
//   - PLG-001 to PLG-099: plugin resolution errors
//   - RND-001 to RND-099: renderer declaration errors
//   - DSP-001 to DSP-099: dispatcher errors
//   - EVT-001 to EVT-099: handled-error event stream errors
//
// # Quick Start
//
//	err := errors.NewBuilder(errors.CodePluginFileNotFound).
//	    WithMessagef("plugin file not found: %s", path).
//	    WithInput("class", className).
//	    Build()
//
// Callers test for a code through any amount of wrapping:
//
//	if errors.HasCode(err, errors.CodePluginFileNotFound) { ... }
//	if stderrors.Is(err, errors.ErrPluginFileNotFound) { ... }
//
// # Severity Levels
//
//   - Warning: the engine continued with a degraded result
//   - Error: resolution failed; startup must abort
//   - Critical: the process cannot produce any error response
package errors
