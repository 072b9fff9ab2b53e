package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound           = errors.New("run not found")
	ErrDefinitionNotFound    = errors.New("definition not found")
	ErrTriggerNotFound       = errors.New("trigger not found")
	ErrBlobNotFound          = errors.New("blob not found")
	ErrSequenceConflict      = errors.New("event sequence conflict")
	ErrMemoryVersionConflict = errors.New("workflow memory version conflict")
	ErrClaimHeld             = errors.New("run is claimed by another owner")
	ErrClaimLost             = errors.New("run claim lost")
)

// StoreError wraps a storage failure with the operation and entity it hit.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewStoreError(op, id string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Err: err}
}

// IsNotFound reports any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrBlobNotFound)
}
