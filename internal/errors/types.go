// Package errors defines the structured error type used across canopy and
// the helpers for wrapping lower-level failures with a category and code.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypePlugin     ErrorType = "plugin"
	ErrorTypePrerender  ErrorType = "prerender"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPath       = "ERR_INVALID_PATH"
	ErrCodePathTraversal     = "ERR_PATH_TRAVERSAL"
	ErrCodePluginContract    = "ERR_PLUGIN_CONTRACT"
	ErrCodePluginFactory     = "ERR_PLUGIN_FACTORY"
	ErrCodeProviderFailed    = "ERR_PROVIDER_FAILED"
	ErrCodePageNotFound      = "ERR_PAGE_NOT_FOUND"
	ErrCodeBrowserLaunch     = "ERR_BROWSER_LAUNCH"
	ErrCodePrerenderPage     = "ERR_PRERENDER_PAGE"
	ErrCodeBundleFailed      = "ERR_BUNDLE_FAILED"
	ErrCodeBundleUnresolved  = "ERR_BUNDLE_UNRESOLVED"
	ErrCodeNoBuildOutput     = "ERR_NO_BUILD_OUTPUT"
	ErrCodeGraphInvalid      = "ERR_GRAPH_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeServerStartFailed = "ERR_SERVER_START"
	ErrCodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeFileExists        = "ERR_FILE_EXISTS"
	ErrCodeInvalidName       = "ERR_INVALID_NAME"
)

// CanopyError is a structured error type with context.
type CanopyError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Suggestion  string
	Recoverable bool
}

// Error implements the error interface.
func (e *CanopyError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *CanopyError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *CanopyError) Is(target error) bool {
	var t *CanopyError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *CanopyError) WithContext(key string, value interface{}) *CanopyError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *CanopyError) WithComponent(component string) *CanopyError {
	e.Component = component

	return e
}

// WithFile records the file the error refers to.
func (e *CanopyError) WithFile(path string) *CanopyError {
	e.FilePath = path

	return e
}

// WithSuggestion attaches troubleshooting guidance shown to the user.
func (e *CanopyError) WithSuggestion(suggestion string) *CanopyError {
	e.Suggestion = suggestion

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *CanopyError {
	return &CanopyError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *CanopyError {
	return &CanopyError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *CanopyError {
	return &CanopyError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *CanopyError {
	return &CanopyError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewPluginError creates a plugin error. Plugin errors are recoverable: the
// pipeline keeps going and surfaces them as warnings.
func NewPluginError(code, plugin, message string, cause error) *CanopyError {
	return &CanopyError{
		Type:        ErrorTypePlugin,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Component:   plugin,
		Recoverable: true,
	}
}

// NewPrerenderError creates a prerender error.
func NewPrerenderError(code, message string, cause error) *CanopyError {
	return &CanopyError{
		Type:    ErrorTypePrerender,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *CanopyError {
	return &CanopyError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ce *CanopyError
	if errors.As(err, &ce) {
		return ce.Recoverable
	}

	return false
}

// HasErrorCode reports whether any CanopyError in the chain carries code.
func HasErrorCode(err error, code string) bool {
	for err != nil {
		var ce *CanopyError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Cause
	}

	return false
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// Logger is the subset of logging.Logger the handler needs.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level matching its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ce *CanopyError
	if !errors.As(err, &ce) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	fields := []interface{}{"type", ce.Type, "code", ce.Code}
	if ce.Component != "" {
		fields = append(fields, "component", ce.Component)
	}
	if ce.FilePath != "" {
		fields = append(fields, "file", ce.FilePath)
	}

	if ce.Recoverable {
		h.logger.Warn(ctx, err, "Recoverable error occurred", fields...)
		return
	}
	h.logger.Error(ctx, err, "Error occurred", fields...)
}
