package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("get occurrence: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("service: %w", fmt.Errorf("repo: %w", ErrNotFound)), true},
		{"different error", ErrConflict, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnsupportedOperation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrUnsupportedOperation, true},
		{"wrapped", fmt.Errorf("analyze document: %w", ErrUnsupportedOperation), true},
		{"different error", ErrIntegration, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnsupportedOperation(tt.err); got != tt.want {
				t.Errorf("IsUnsupportedOperation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIntegration(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrIntegration, true},
		{"wrapped", fmt.Errorf("text analysis: %w", ErrIntegration), true},
		{"joined with markup error", fmt.Errorf("%w: %w", ErrIntegration, ErrMalformedMarkup), true},
		{"different error", ErrMalformedMarkup, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIntegration(tt.err); got != tt.want {
				t.Errorf("IsIntegration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMalformedMarkup(t *testing.T) {
	if !IsMalformedMarkup(fmt.Errorf("parse: %w", ErrMalformedMarkup)) {
		t.Error("expected wrapped ErrMalformedMarkup to match")
	}
	if IsMalformedMarkup(ErrValidation) {
		t.Error("ErrValidation should not match ErrMalformedMarkup")
	}
}

func TestIsValidationAndInvalidState(t *testing.T) {
	if !IsValidation(fmt.Errorf("input: %w", ErrValidation)) {
		t.Error("expected wrapped ErrValidation to match")
	}
	if !IsInvalidState(fmt.Errorf("confirm: %w", ErrInvalidState)) {
		t.Error("expected wrapped ErrInvalidState to match")
	}
	if !IsConflict(fmt.Errorf("insert: %w", ErrConflict)) {
		t.Error("expected wrapped ErrConflict to match")
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrConflict,
		ErrValidation,
		ErrUnsupportedOperation,
		ErrIntegration,
		ErrMalformedMarkup,
		ErrInvalidState,
	}

	for i, e1 := range allErrors {
		for j, e2 := range allErrors {
			if i != j && errors.Is(e1, e2) {
				t.Errorf("errors should be distinct: %v and %v", e1, e2)
			}
		}
	}
}
