package model

import "errors"

// ErrorCode classifies the failures the pipeline reports to callers.
// Codes ride inside a StructuredError and survive eris wrapping, so
// transports and CLIs can branch on them without string matching.
type ErrorCode string

const (
	// Snapshot and planning.
	CodeNoRowsAfterSearch          ErrorCode = "no_rows_after_search"
	CodeSnapshotReadFailed         ErrorCode = "snapshot_read_failed"
	CodeMissingCoordinationContext ErrorCode = "missing_coordination_context"

	// Guardrails, in their evaluation order.
	CodeRealExecutionNotRequested ErrorCode = "real_execution_not_requested"
	CodeMissingSessionState       ErrorCode = "missing_session_state"
	CodeMissingConfirmation       ErrorCode = "missing_confirmation"
	CodeUploadLimitExceeded       ErrorCode = "upload_limit_exceeded"
	CodeTypeNotAllowlisted        ErrorCode = "type_not_allowlisted"
	CodeConfidenceBelowThreshold  ErrorCode = "confidence_below_threshold"

	// Confirmation and execution.
	CodeInvalidChallenge        ErrorCode = "invalid_challenge"
	CodePartialExecutionFailure ErrorCode = "partial_execution_failure"
	CodeNothingToExecute        ErrorCode = "nothing_to_execute"

	// Lookup failures.
	CodePlanNotFound ErrorCode = "plan_not_found"
	CodeJobNotFound  ErrorCode = "job_not_found"

	// Artifact store guards.
	CodeRunAlreadySummarized ErrorCode = "run_already_summarized"
)

// StructuredError is a caller-facing failure with a stable code and an
// optional remediation hint. It is the only error shape the external
// operations surface for business and guardrail failures.
type StructuredError struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`

	cause error
}

func (e *StructuredError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *StructuredError) Unwrap() error {
	return e.cause
}

// NewStructured builds a StructuredError with the given code and message.
func NewStructured(code ErrorCode, message string) *StructuredError {
	return &StructuredError{Code: code, Message: message}
}

// WithHint attaches a remediation hint and returns the error for chaining.
func (e *StructuredError) WithHint(hint string) *StructuredError {
	e.Hint = hint
	return e
}

// WithCause records the underlying failure so the full chain stays
// inspectable while callers still see the structured code.
func (e *StructuredError) WithCause(err error) *StructuredError {
	e.cause = err
	return e
}

// CodeOf extracts the structured code from err, unwrapping as needed.
// It returns an empty code when err carries no StructuredError.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given structured code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// AsStructured unwraps err into a StructuredError if one is present.
func AsStructured(err error) (*StructuredError, bool) {
	var se *StructuredError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
