package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory represents the failure classes a workflow can hit
type ErrorCategory string

const (
	// Paused, recoverable via a resume call
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryValidation    ErrorCategory = "VALIDATION"
	ErrorCategorySchema        ErrorCategory = "SCHEMA"

	// Terminal for the run
	ErrorCategoryDataIntegrity ErrorCategory = "DATA_INTEGRITY"

	// Recovered automatically
	ErrorCategoryRegression ErrorCategory = "REGRESSION"

	// Caller bugs: wrong payload for the current state, malformed input
	ErrorCategoryContract ErrorCategory = "CONTRACT"

	// Transient collaborator failures
	ErrorCategoryToolchain ErrorCategory = "TOOLCHAIN"
)

// WorkflowError represents a categorized error with context
type WorkflowError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *WorkflowError) Unwrap() error {
	return e.Underlying
}

// Is matches any WorkflowError of the same category, so sentinels like
// ErrSchema work with errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Component == "" && t.Category == e.Category
}

// IsRetryable returns whether this error can be retried
func (e *WorkflowError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error terminates the workflow
func (e *WorkflowError) IsFatal() bool {
	return e.Category == ErrorCategoryDataIntegrity
}

// WithContext adds context information to the error
func (e *WorkflowError) WithContext(key string, value interface{}) *WorkflowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *WorkflowError) WithRetryable(retryable bool) *WorkflowError {
	e.Retryable = retryable
	return e
}

// Category sentinels for errors.Is
var (
	ErrConfiguration = &WorkflowError{Category: ErrorCategoryConfiguration}
	ErrValidation    = &WorkflowError{Category: ErrorCategoryValidation}
	ErrSchema        = &WorkflowError{Category: ErrorCategorySchema}
	ErrDataIntegrity = &WorkflowError{Category: ErrorCategoryDataIntegrity}
	ErrRegression    = &WorkflowError{Category: ErrorCategoryRegression}
	ErrContract      = &WorkflowError{Category: ErrorCategoryContract}
	ErrToolchain     = &WorkflowError{Category: ErrorCategoryToolchain}
)

// NewWorkflowError creates a new categorized error
func NewWorkflowError(category ErrorCategory, component, operation, message string) *WorkflowError {
	return &WorkflowError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: category == ErrorCategoryToolchain,
	}
}

// WrapError wraps an existing error with workflow context
func WrapError(err error, category ErrorCategory, component, operation string) *WorkflowError {
	if err == nil {
		return nil
	}
	return &WorkflowError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  category == ErrorCategoryToolchain,
	}
}

// CategoryOf returns the category of the first WorkflowError in the chain
func CategoryOf(err error) (ErrorCategory, bool) {
	var we *WorkflowError
	if stderrors.As(err, &we) {
		return we.Category, true
	}
	return "", false
}

// IsRetryable reports whether any error in the chain is a retryable WorkflowError
func IsRetryable(err error) bool {
	var we *WorkflowError
	return stderrors.As(err, &we) && we.Retryable
}

// Common error constructors

func NewConfigurationError(component, operation, message string) *WorkflowError {
	return NewWorkflowError(ErrorCategoryConfiguration, component, operation, message)
}

func NewValidationFailure(component, operation, message string) *WorkflowError {
	return NewWorkflowError(ErrorCategoryValidation, component, operation, message)
}

func NewDataIntegrityError(component, operation, message string) *WorkflowError {
	return NewWorkflowError(ErrorCategoryDataIntegrity, component, operation, message)
}

func NewRegressionFailure(component, operation, message string) *WorkflowError {
	return NewWorkflowError(ErrorCategoryRegression, component, operation, message)
}

func NewContractViolation(component, operation, message string) *WorkflowError {
	return NewWorkflowError(ErrorCategoryContract, component, operation, message)
}

func NewToolchainError(component, operation string, err error) *WorkflowError {
	return WrapError(err, ErrorCategoryToolchain, component, operation)
}

// FieldError is one structural problem in an external payload
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Path + ": " + f.Message
}

// SchemaError collects every field error found in a payload
type SchemaError struct {
	Payload string
	Fields  []FieldError
}

// Add records a field error
func (s *SchemaError) Add(path, format string, args ...interface{}) {
	s.Fields = append(s.Fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any field error was recorded
func (s *SchemaError) HasErrors() bool {
	return len(s.Fields) > 0
}

// Error implements the error interface
func (s *SchemaError) Error() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.String()
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s failed schema validation: %s", s.Payload, strings.Join(parts, "; "))
}

// AsWorkflowError wraps the schema error in the SCHEMA category
func (s *SchemaError) AsWorkflowError(component, operation string) *WorkflowError {
	we := WrapError(s, ErrorCategorySchema, component, operation)
	we.Message = "payload rejected"
	return we
}
