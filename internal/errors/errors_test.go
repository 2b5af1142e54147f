package errors

import (
	"errors"
	"testing"
)

func TestParseErrorUnwrap(t *testing.T) {
	underlying := errors.New("unexpected token")
	err := NewParseError("lib/app/accounts.ex", underlying)

	if err.Type != ErrorTypeParse {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeParse)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected error to unwrap to underlying")
	}
	want := `parse-error: parse failed for lib/app/accounts.ex: unexpected token`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSchemaMismatchError(t *testing.T) {
	err := NewSchemaMismatchError(0, 1)
	want := "schema-version-mismatch: manifest schema version 0, this build supports 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNoIndexError(t *testing.T) {
	err := NewNoIndexError("/proj")
	if err.Type != ErrorTypeNoIndex {
		t.Errorf("Type = %v", err.Type)
	}
}

func TestMultiErrorFiltersNil(t *testing.T) {
	err := NewMultiError([]error{nil, errors.New("a"), nil, errors.New("b")})
	if len(err.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(err.Errors))
	}
	if err.Error() != "2 errors: [a b]" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMultiErrorEmpty(t *testing.T) {
	err := NewMultiError(nil)
	if err.Error() != "no errors" {
		t.Errorf("Error() = %q", err.Error())
	}
}
