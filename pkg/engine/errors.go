package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cairnlang/cairn/pkg/ast"
)

// ErrorKind classifies an evaluation failure.
type ErrorKind string

const (
	// ErrorKindNotFound indicates a name that is truly absent after all
	// retries, as opposed to a forward reference.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindDeclarationExists indicates a duplicate registration at the
	// same qualified path or scope name.
	ErrorKindDeclarationExists ErrorKind = "declaration_exists"

	// ErrorKindCycleDetected indicates a circular wait between entities.
	ErrorKindCycleDetected ErrorKind = "cycle_detected"

	// ErrorKindInvalidInit indicates a structurally illegal declaration.
	// Examples: assigning a provider-computed property, missing required input.
	ErrorKindInvalidInit ErrorKind = "invalid_init"

	// ErrorKindTypeMismatch indicates an operator or assignment type incompatibility.
	ErrorKindTypeMismatch ErrorKind = "type_mismatch"

	// ErrorKindEvaluation is the catch-all for any other evaluation failure.
	ErrorKindEvaluation ErrorKind = "evaluation_error"
)

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrNotFound          = &EvalError{Kind: ErrorKindNotFound}
	ErrDeclarationExists = &EvalError{Kind: ErrorKindDeclarationExists}
	ErrCycleDetected     = &EvalError{Kind: ErrorKindCycleDetected}
	ErrInvalidInit       = &EvalError{Kind: ErrorKindInvalidInit}
	ErrTypeMismatch      = &EvalError{Kind: ErrorKindTypeMismatch}
	ErrEvaluation        = &EvalError{Kind: ErrorKindEvaluation}
)

// EvalError represents a classified evaluation error with context.
type EvalError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Entity is the registration key of the entity being evaluated, if any.
	Entity string `json:"entity,omitempty"`

	// Pos is the source position of the offending declaration or expression.
	Pos ast.Pos `json:"pos"`

	// Cycle lists the members of a detected cycle, first member repeated last.
	Cycle []string `json:"cycle,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	var sb strings.Builder
	if pos := e.Pos.String(); pos != "" {
		sb.WriteString(pos)
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "[%s] %s", e.Kind, e.Message)
	if e.Entity != "" {
		fmt.Fprintf(&sb, " (entity=%s)", e.Entity)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, message string, err error) *EvalError {
	return &EvalError{Kind: kind, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string) *EvalError {
	return newError(ErrorKindNotFound, message, nil)
}

// NewDeclarationExistsError creates a new duplicate-declaration error.
func NewDeclarationExistsError(name string) *EvalError {
	return newError(ErrorKindDeclarationExists, fmt.Sprintf("%q is already declared", name), nil)
}

// NewCycleError creates a cycle error carrying the member chain.
func NewCycleError(members []string) *EvalError {
	e := newError(ErrorKindCycleDetected, "circular dependency detected: "+FormatCycle(members), nil)
	e.Cycle = members
	return e
}

// NewInvalidInitError creates a new invalid-initialization error.
func NewInvalidInitError(message string) *EvalError {
	return newError(ErrorKindInvalidInit, message, nil)
}

// NewTypeMismatchError creates a new type-mismatch error.
func NewTypeMismatchError(message string) *EvalError {
	return newError(ErrorKindTypeMismatch, message, nil)
}

// NewEvaluationError creates a generic evaluation error.
func NewEvaluationError(message string, err error) *EvalError {
	return newError(ErrorKindEvaluation, message, err)
}

// WithEntity adds entity context to an error.
func (e *EvalError) WithEntity(key string) *EvalError {
	e.Entity = key
	return e
}

// WithPos adds a source position to an error unless one is already set.
func (e *EvalError) WithPos(pos ast.Pos) *EvalError {
	if e.Pos == (ast.Pos{}) {
		e.Pos = pos
	}
	return e
}

// WithCause sets the underlying error.
func (e *EvalError) WithCause(err error) *EvalError {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EvalError) WithDetail(key string, value interface{}) *EvalError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first EvalError in err's chain, or
// ErrorKindEvaluation for foreign errors.
func KindOf(err error) ErrorKind {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindEvaluation
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDeclarationExists returns true if the error is a duplicate-declaration error.
func IsDeclarationExists(err error) bool {
	return errors.Is(err, ErrDeclarationExists)
}

// IsCycle returns true if the error is a cycle error.
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycleDetected)
}

// IsInvalidInit returns true if the error is an invalid-initialization error.
func IsInvalidInit(err error) bool {
	return errors.Is(err, ErrInvalidInit)
}

// IsTypeMismatch returns true if the error is a type-mismatch error.
func IsTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}

// FormatCycle formats a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
