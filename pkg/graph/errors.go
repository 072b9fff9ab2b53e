package graph

import (
	"fmt"
	"strings"
)

type ErrorCode string

const (
	CodeInvalidStructure     ErrorCode = "invalid_structure"
	CodeDuplicateNode        ErrorCode = "duplicate_node"
	CodeNodeNotFound         ErrorCode = "node_not_found"
	CodeSourcePortNotFound   ErrorCode = "source_port_not_found"
	CodeTargetPortNotFound   ErrorCode = "target_port_not_found"
	CodePortArity            ErrorCode = "port_arity"
	CodeRequiredInputMissing ErrorCode = "required_input_missing"
	CodeIncompatibleSchemas  ErrorCode = "incompatible_schemas"
	CodeInvalidSchema        ErrorCode = "invalid_schema"
	CodeInvalidConfig        ErrorCode = "invalid_config"
	CodeCycleDetected        ErrorCode = "cycle_detected"
	CodeFanOutPort           ErrorCode = "fan_out_port"
	CodeFanInCloses          ErrorCode = "fan_in_closes"
	CodeFanInScope           ErrorCode = "fan_in_scope"
	CodeFanInIntersection    ErrorCode = "fan_in_intersection"
	CodeScopeEscape          ErrorCode = "scope_escape"
	CodeScopeOverlap         ErrorCode = "scope_overlap"
)

// ValidationError is one construction-time defect of a definition.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	NodeID  string    `json:"node_id,omitempty"`
	Port    string    `json:"port,omitempty"`
	Message string    `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
}

// ValidationErrors collects every defect found in one pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}

	return "invalid workflow definition: " + strings.Join(msgs, "; ")
}

// Has reports whether any collected error carries code.
func (e ValidationErrors) Has(code ErrorCode) bool {
	for _, err := range e {
		if err.Code == code {
			return true
		}
	}

	return false
}

func (e ValidationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}

	return out
}
