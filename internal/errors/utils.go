package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context, creating a CanopyError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *CanopyError {
	if err == nil {
		return nil
	}

	var ce *CanopyError
	if errors.As(err, &ce) {
		return &CanopyError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ce,
			Context:     ce.Context,
			Component:   ce.Component,
			FilePath:    ce.FilePath,
			Suggestion:  ce.Suggestion,
			Recoverable: ce.Recoverable,
		}
	}

	return &CanopyError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypePlugin,
	}
}

// WrapBuild wraps an error as a build error with component context
func WrapBuild(err error, code, message, component string) *CanopyError {
	ce := Wrap(err, ErrorTypeBuild, code, message)
	if ce != nil {
		ce.Component = component
	}
	return ce
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *CanopyError {
	ce := Wrap(err, ErrorTypeIO, code, message)
	if ce != nil {
		ce.Recoverable = false
	}
	return ce
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *CanopyError {
	ce := Wrap(err, ErrorTypeConfig, code, message)
	if ce != nil {
		ce.Recoverable = false
	}
	return ce
}

// WrapProvider wraps a failure returned by a resource provider.
func WrapProvider(err error, provider, stage string) *CanopyError {
	ce := Wrap(err, ErrorTypePlugin, ErrCodeProviderFailed, fmt.Sprintf("%s stage failed", stage))
	if ce != nil {
		ce.Component = provider
		ce.Recoverable = false
	}
	return ce
}

// FormatError formats an error for user display, including any suggestion
// found along the chain.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(err.Error())

	if suggestion := findSuggestion(err); suggestion != "" {
		b.WriteString("\n\n")
		b.WriteString(suggestion)
	}

	return b.String()
}

func findSuggestion(err error) string {
	for err != nil {
		var ce *CanopyError
		if !errors.As(err, &ce) {
			return ""
		}
		if ce.Suggestion != "" {
			return ce.Suggestion
		}
		err = ce.Cause
	}
	return ""
}
