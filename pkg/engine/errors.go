package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/persistence"
)

var (
	ErrTriggerNotFound   = persistence.ErrTriggerNotFound
	ErrDefinitionMissing = persistence.ErrDefinitionNotFound
	ErrRunNotFound       = persistence.ErrRunNotFound

	ErrTriggerDisabled   = errors.New("trigger is disabled")
	ErrNotATrigger       = errors.New("node is not a trigger")
	ErrNoManualTrigger   = errors.New("workflow has no manual trigger")
	ErrAmbiguousTrigger  = errors.New("workflow has several manual triggers, name one")
	ErrRunFinished       = errors.New("run already finished")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)

// Codes carried by Error for API responses.
const (
	CodeInvalidDefinition = "invalid_definition"
	CodeNotFound          = "not_found"
	CodeTriggerDisabled   = "trigger_disabled"
	CodeConflict          = "conflict"
	CodeInvalidRequest    = "invalid_request"
)

// Error wraps an engine failure with the operation and an API code.
type Error struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op, code string, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// IsValidationError reports errors that should be answered with 400.
func IsValidationError(err error) bool {
	var verrs graph.ValidationErrors

	return errors.Is(err, ErrInvalidDefinition) ||
		errors.As(err, &verrs) ||
		errors.Is(err, ErrNotATrigger) ||
		errors.Is(err, ErrNoManualTrigger) ||
		errors.Is(err, ErrAmbiguousTrigger)
}

// IsConflictError reports errors that should be answered with 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTriggerDisabled) || errors.Is(err, ErrRunFinished)
}

// ValidationErrors extracts the definition defects from err, if any.
func ValidationErrors(err error) graph.ValidationErrors {
	var verrs graph.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}

	return nil
}
