package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified analysis failure.
type ErrorCode string

const (
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeCancelled          ErrorCode = "context_cancelled"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
	ErrCodeRateLimit          ErrorCode = "rate_limit"
	ErrCodeEmptyResponse      ErrorCode = "empty_response"
	ErrCodeMalformedMarkup    ErrorCode = "malformed_markup"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeUnsupported        ErrorCode = "unsupported_operation"
	ErrCodeStorage            ErrorCode = "storage_error"
	ErrCodeProcessing         ErrorCode = "processing_error"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrCodeTimeout: {
		Code:            ErrCodeTimeout,
		Retryable:       true,
		Description:     "Text analysis exceeded time limit",
		SuggestedAction: "Raise text_analysis.timeout or retry later",
	},
	ErrCodeCancelled: {
		Code:            ErrCodeCancelled,
		Retryable:       false,
		Description:     "Analysis cancelled by user or system",
		SuggestedAction: "Check if cancellation was intentional",
	},
	ErrCodeServiceUnavailable: {
		Code:            ErrCodeServiceUnavailable,
		Retryable:       true,
		Description:     "Text analysis service unreachable",
		SuggestedAction: "Verify text_analysis.url and service health",
	},
	ErrCodeRateLimit: {
		Code:            ErrCodeRateLimit,
		Retryable:       true,
		Description:     "Text analysis service rejected the request (rate limit)",
		SuggestedAction: "Lower text_analysis.requests_per_second",
	},
	ErrCodeEmptyResponse: {
		Code:            ErrCodeEmptyResponse,
		Retryable:       true,
		Description:     "Text analysis service returned an empty body",
		SuggestedAction: "Inspect the service logs for the failed request",
	},
	ErrCodeMalformedMarkup: {
		Code:            ErrCodeMalformedMarkup,
		Retryable:       false,
		Description:     "Annotated markup could not be interpreted",
		SuggestedAction: "Check annotation attributes (typeof, resource, score, about)",
	},
	ErrCodeNotFound: {
		Code:            ErrCodeNotFound,
		Retryable:       false,
		Description:     "Resource or its content not found",
		SuggestedAction: "Verify the file exists: termit resources show <id>",
	},
	ErrCodeUnsupported: {
		Code:            ErrCodeUnsupported,
		Retryable:       false,
		Description:     "Resource cannot be analyzed",
		SuggestedAction: "Analyze a file, or pass --vocabulary explicitly",
	},
	ErrCodeStorage: {
		Code:            ErrCodeStorage,
		Retryable:       true,
		Description:     "Occurrence storage failed; transaction rolled back",
		SuggestedAction: "Check database health: termit db status",
	},
	ErrCodeProcessing: {
		Code:            ErrCodeProcessing,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Re-run with --debug and inspect the logs",
	},
}

// AnalysisError is a structured error for text analysis failures.
type AnalysisError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Cause    error
}

func (e *AnalysisError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns an *AnalysisError with the appropriate code.
// Sentinel errors are matched first, then context errors, then message patterns.
func ClassifyError(err error, stage string) *AnalysisError {
	if err == nil {
		return nil
	}

	ae := &AnalysisError{
		Stage:   stage,
		Message: err.Error(),
		Cause:   err,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ae.Code = ErrCodeTimeout
		return ae
	case errors.Is(err, context.Canceled):
		ae.Code = ErrCodeCancelled
		return ae
	case errors.Is(err, ErrMalformedMarkup):
		ae.Code = ErrCodeMalformedMarkup
		return ae
	case errors.Is(err, ErrNotFound):
		ae.Code = ErrCodeNotFound
		return ae
	case errors.Is(err, ErrUnsupportedOperation):
		ae.Code = ErrCodeUnsupported
		return ae
	}

	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "empty response") || strings.Contains(lower, "empty body") {
		ae.Code = ErrCodeEmptyResponse
		return ae
	}
	if strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit") {
		ae.Code = ErrCodeRateLimit
		return ae
	}
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "unavailable") {
		ae.Code = ErrCodeServiceUnavailable
		return ae
	}
	if strings.Contains(lower, "transaction") || strings.Contains(lower, "sqlstate") || strings.Contains(lower, "storing occurrences") {
		ae.Code = ErrCodeStorage
		return ae
	}

	ae.Code = ErrCodeProcessing
	return ae
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// IsErrorRetryable returns true if err is an *AnalysisError whose code is retryable.
func IsErrorRetryable(err error) bool {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return IsRetryable(ae.Code)
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --debug and inspect the logs"
}
