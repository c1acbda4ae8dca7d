// Package errors provides a lightweight structured error type (BuildError)
// for category-based classification of pipeline failures.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a kiln error for classification
type ErrorCategory string

const (
	// Upstream producer failures (network fetch, transform, parse)
	CategoryGeneration ErrorCategory = "generation"

	// Filesystem access failures
	CategoryIO ErrorCategory = "io"

	// Cache invariant violations; should never surface to a well-formed caller
	CategoryCacheMiss ErrorCategory = "cache-miss"

	// Collision or copy failures during binary placement
	CategoryPlacement ErrorCategory = "placement"

	// Diagnostic-severity gate rejected an artifact
	CategoryGate ErrorCategory = "gate"

	// Configuration and input errors
	CategoryConfig ErrorCategory = "config"

	// Runtime and infrastructure errors
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the unit
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal for sibling units
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// ContextFields carries structured context for BuildError
type ContextFields map[string]any

// BuildError is a structured error with category, severity, and context
type BuildError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildError) WithContext(key string, value any) *BuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new BuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsCategory checks if an error (or any error it wraps) belongs to a category
func IsCategory(err error, category ErrorCategory) bool {
	for err != nil {
		if be, ok := err.(*BuildError); ok && be.Category == category {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GetCategory extracts the category from an error, or returns
// CategoryInternal if not a BuildError
func GetCategory(err error) ErrorCategory {
	if be, ok := err.(*BuildError); ok {
		return be.Category
	}
	return CategoryInternal
}
