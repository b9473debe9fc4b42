package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports a structurally invalid pipeline, detected
// before anything executes. Index is the 0-based position of the
// offending step in the flattened operation list.
type ValidationError struct {
	Index   int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline invalid at index %d: %s", e.Index, e.Message)
}

// AsValidationError unwraps err to a *ValidationError if one is in
// the chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// ContractErrorCode categorizes execution contract violations.
type ContractErrorCode string

const (
	// CodeNeedsPrevious indicates an operation that consumes the
	// previous result executed without one.
	CodeNeedsPrevious ContractErrorCode = "NEEDS_PREVIOUS"

	// CodeUnboundOperation indicates a storage operation reached
	// execution without a target.
	CodeUnboundOperation ContractErrorCode = "UNBOUND_OPERATION"

	// CodeUnsupportedIndex indicates a target was handed an index
	// variant it cannot serve.
	CodeUnsupportedIndex ContractErrorCode = "UNSUPPORTED_INDEX"

	// CodeBadResult indicates a step produced a result the next step
	// cannot consume.
	CodeBadResult ContractErrorCode = "BAD_RESULT"

	// CodeBadPlan indicates a plan or plan input the engine cannot
	// execute.
	CodeBadPlan ContractErrorCode = "BAD_PLAN"
)

// ContractError reports a violation of the execution contract: the
// pipeline passed validation but asked a step for something it cannot
// do. Backend failures are not contract errors; they wrap through
// unchanged.
type ContractError struct {
	Code    ContractErrorCode
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsContractError reports whether err carries a ContractError with
// the given code.
func IsContractError(err error, code ContractErrorCode) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// NewNeedsPreviousError builds the contract error for an operation
// that consumes a previous result but received none.
func NewNeedsPreviousError(what string) *ContractError {
	return &ContractError{
		Code:    CodeNeedsPrevious,
		Message: fmt.Sprintf("%s requires a previous result", what),
	}
}

// NewUnboundError builds the contract error for a storage operation
// that reached execution without a target.
func NewUnboundError(what string) *ContractError {
	return &ContractError{
		Code:    CodeUnboundOperation,
		Message: fmt.Sprintf("%s must be bound to a target; bind it with Bind or Chain", what),
	}
}

// NewUnsupportedIndexError builds the contract error for an index
// variant a target cannot serve.
func NewUnsupportedIndexError(target, kind string) *ContractError {
	return &ContractError{
		Code:    CodeUnsupportedIndex,
		Message: fmt.Sprintf("target %q does not support %s indexes", target, kind),
	}
}

// NewBadResultError builds the contract error for a result shape the
// next step cannot consume.
func NewBadResultError(msg string) *ContractError {
	return &ContractError{Code: CodeBadResult, Message: msg}
}

// NewBadPlanError builds the contract error for an unexecutable plan.
func NewBadPlanError(msg string) *ContractError {
	return &ContractError{Code: CodeBadPlan, Message: msg}
}
