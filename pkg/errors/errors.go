// Package errors provides common domain error types for termit.
//
// Sentinel errors describe conditions shared by every layer (a missing file, a
// resource that cannot be analyzed, a failed call to the text analysis service).
// Wrap them with fmt.Errorf("...: %w", err) and test with the Is* helpers.
//
// Usage:
//
//	import tmerrors "github.com/MichalMed/termit/pkg/errors"
//
//	return nil, fmt.Errorf("occurrence %s: %w", id, tmerrors.ErrNotFound)
//
//	if tmerrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested file, term, occurrence or record was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrUnsupportedOperation indicates the operation is not supported for the
	// given resource, e.g. text analysis of a resource without textual content.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrIntegration indicates the external text analysis service failed,
	// timed out or returned a body that could not be used.
	ErrIntegration = errors.New("integration failure")

	// ErrMalformedMarkup indicates the annotated markup could not be interpreted.
	ErrMalformedMarkup = errors.New("malformed markup")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnsupportedOperation reports whether any error in err's chain is ErrUnsupportedOperation.
func IsUnsupportedOperation(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}

// IsIntegration reports whether any error in err's chain is ErrIntegration.
func IsIntegration(err error) bool {
	return errors.Is(err, ErrIntegration)
}

// IsMalformedMarkup reports whether any error in err's chain is ErrMalformedMarkup.
func IsMalformedMarkup(err error) bool {
	return errors.Is(err, ErrMalformedMarkup)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
