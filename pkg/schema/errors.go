package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeDanglingTransition = "DANGLING_TRANSITION"
	ErrCodeBlockFailed        = "BLOCK_FAILED"
	ErrCodeBlockUnavailable   = "BLOCK_UNAVAILABLE"
	ErrCodeGuardRejected      = "GUARD_REJECTED"
	ErrCodeGuardUnavailable   = "GUARD_UNAVAILABLE"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeSerialization      = "SERIALIZATION_ERROR"
	ErrCodeState              = "STATE_ERROR"
)

// BlockflowError is the structured error type for all blockflow operations.
type BlockflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Block   string         `json:"block,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BlockflowError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("[%s] block %s: %s", e.Code, e.Block, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BlockflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BlockflowError.
func NewError(code, message string) *BlockflowError {
	return &BlockflowError{Code: code, Message: message}
}

// NewErrorf creates a new BlockflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *BlockflowError {
	return &BlockflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithBlock attaches a block name to the error.
func (e *BlockflowError) WithBlock(block string) *BlockflowError {
	e.Block = block
	return e
}

// WithCause attaches an underlying cause.
func (e *BlockflowError) WithCause(err error) *BlockflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BlockflowError) WithDetails(details map[string]any) *BlockflowError {
	e.Details = details
	return e
}
