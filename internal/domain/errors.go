// Package domain holds the shared data model for the backtesting service:
// requests, job records, the execution payload/result pair that crosses the
// sandbox boundary, and the error taxonomy used to gate pipeline stages.
package domain

import (
	"fmt"
	"strings"
)

// ErrorItem is a single accumulated error. Line is 1-based and 0 when the
// error is not tied to a source location.
type ErrorItem struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e ErrorItem) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ErrorList is an ordered accumulator of errors. Stages append granular
// errors to it and the orchestrator promotes a non-empty list to a
// ValidationError or ExecutionError between stages.
type ErrorList struct {
	Items []ErrorItem `json:"items"`
}

// Add appends an error without a source location.
func (l *ErrorList) Add(message string) {
	l.Items = append(l.Items, ErrorItem{Message: message})
}

// Addf appends a formatted error without a source location.
func (l *ErrorList) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// AddAt appends an error tied to a source line.
func (l *ErrorList) AddAt(line int, message string) {
	l.Items = append(l.Items, ErrorItem{Message: message, Line: line})
}

// AddAtf appends a formatted error tied to a source line.
func (l *ErrorList) AddAtf(line int, format string, args ...any) {
	l.AddAt(line, fmt.Sprintf(format, args...))
}

// IsEmpty reports whether no errors have been accumulated.
func (l *ErrorList) IsEmpty() bool {
	return l == nil || len(l.Items) == 0
}

// Messages returns the error messages in order.
func (l *ErrorList) Messages() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		out = append(out, item.String())
	}
	return out
}

func (l *ErrorList) String() string {
	return strings.Join(l.Messages(), "; ")
}

// ValidationError carries user-fixable errors: bad request fields, static
// analyzer rejections, metadata extraction failures, syntax errors. Rendered
// inline in the code editor as analysis_errors.
type ValidationError struct {
	Errors ErrorList
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Errors.String()
}

// ExecutionError carries runtime and system errors: empty market data,
// sandbox failures, user code raising during on_data, output validation
// rejections. Rendered as a run-time traceback (execution_errors).
type ExecutionError struct {
	Errors ErrorList
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Errors.String()
}

// NewValidationError wraps a single message in a ValidationError.
func NewValidationError(message string) *ValidationError {
	err := &ValidationError{}
	err.Errors.Add(message)
	return err
}

// NewExecutionError wraps a single message in an ExecutionError.
func NewExecutionError(message string) *ExecutionError {
	err := &ExecutionError{}
	err.Errors.Add(message)
	return err
}
