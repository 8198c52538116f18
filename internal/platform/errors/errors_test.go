package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodeContractViolation, "container %q is text, not map", "title")
	wrapped := fmt.Errorf("sub document: %w", err)

	if !stderrors.Is(wrapped, ErrContractViolation) {
		t.Fatalf("expected wrapped error to match ErrContractViolation")
	}
	if stderrors.Is(wrapped, ErrResourceMisuse) {
		t.Fatalf("expected wrapped error not to match ErrResourceMisuse")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("dial refused")
	err := Wrap(CodeTransportFailure, "connect", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if got, want := err.Error(), "connect: dial refused"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: CodeUnknown},
		{name: "plain", err: stderrors.New("x"), want: CodeUnknown},
		{name: "direct", err: New(CodeResourceMisuse, "closed"), want: CodeResourceMisuse},
		{name: "wrapped", err: fmt.Errorf("set: %w", New(CodeValidationRejection, "bad")), want: CodeValidationRejection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
