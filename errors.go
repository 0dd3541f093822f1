package trigger

import (
	stderrors "errors"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeConfigInvalid      = "ACTION_CONFIG_INVALID"
	ErrCodeInvalidOperator    = "CONDITION_INVALID_OPERATOR"
	ErrCodeInvalidTransition  = "EXECUTION_INVALID_TRANSITION"
	ErrCodeHandlerNotFound    = "HANDLER_NOT_FOUND"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeNotRetryable       = "EXECUTION_NOT_RETRYABLE"
	ErrCodeActionNotFound     = "ACTION_NOT_FOUND"
	ErrCodeExecutionNotFound  = "EXECUTION_NOT_FOUND"
	ErrCodeMatchEvaluation    = "MATCH_EVALUATION_FAILED"
	ErrCodeStoreNotConfigured = "STORE_NOT_CONFIGURED"
)

var (
	ErrConfigInvalid = apperrors.New("action configuration invalid", apperrors.CategoryValidation).
				WithTextCode(ErrCodeConfigInvalid)
	ErrInvalidOperator = apperrors.New("invalid condition operator", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidOperator)
	ErrInvalidTransition = apperrors.New("invalid execution state transition", apperrors.CategoryConflict).
				WithTextCode(ErrCodeInvalidTransition)
	ErrRetryExhausted = apperrors.New("retry attempts exhausted", apperrors.CategoryConflict).
				WithTextCode(ErrCodeRetryExhausted)
	ErrNotRetryable = apperrors.New("execution is not retryable", apperrors.CategoryConflict).
			WithTextCode(ErrCodeNotRetryable)
	ErrActionNotFound = apperrors.New("action not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeActionNotFound)
	ErrExecutionNotFound = apperrors.New("execution not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeExecutionNotFound)
)

func errorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRetryExhausted reports whether err carries the retry exhaustion code.
func IsRetryExhausted(err error) bool {
	return errorCode(err) == ErrCodeRetryExhausted
}

// IsConfigInvalid reports whether err carries the configuration validation code.
func IsConfigInvalid(err error) bool {
	return errorCode(err) == ErrCodeConfigInvalid
}

// IsNotFound reports whether err carries an action or execution lookup miss.
func IsNotFound(err error) bool {
	code := errorCode(err)
	return code == ErrCodeActionNotFound || code == ErrCodeExecutionNotFound
}
