// Package errors provides unit tests for typed application errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestAppErrorFormat tests error string formatting with and without a cause.
func TestAppErrorFormat(t *testing.T) {
	err := New(ErrAlreadyLocked, "resource is locked")
	want := "[ALREADY_LOCKED] resource is locked"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := stderrors.New("row exists")
	wrapped := Wrap(ErrDatabase, "insert failed", cause)
	if wrapped.Error() != "[DATABASE_ERROR] insert failed: row exists" {
		t.Errorf("Unexpected wrapped format: %q", wrapped.Error())
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("Expected wrapped error to unwrap to cause")
	}
}

// TestIs tests code matching through wrapping.
func TestIs(t *testing.T) {
	err := New(ErrForbidden, "not the lease owner")

	if !Is(err, ErrForbidden) {
		t.Error("Expected Is to match FORBIDDEN")
	}
	if Is(err, ErrNotFound) {
		t.Error("Expected Is to not match NOT_FOUND")
	}

	// Matching must survive an extra fmt.Errorf wrap.
	outer := fmt.Errorf("release: %w", err)
	if !Is(outer, ErrForbidden) {
		t.Error("Expected Is to match through fmt.Errorf wrapping")
	}

	if Is(stderrors.New("plain"), ErrForbidden) {
		t.Error("Expected plain error to match nothing")
	}
}

// TestGetCode tests code extraction and the unexpected fallback.
func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrLockExpired, "gone")); got != ErrLockExpired {
		t.Errorf("GetCode() = %s, want %s", got, ErrLockExpired)
	}
	if got := GetCode(stderrors.New("plain")); got != ErrUnexpected {
		t.Errorf("GetCode() = %s, want %s", got, ErrUnexpected)
	}
}

// TestDetails tests structured detail access.
func TestDetails(t *testing.T) {
	err := NewWithDetails(ErrAlreadyLocked, "resource is locked", map[string]interface{}{
		"is_own_lock": true,
		"owner_id":    "user-2",
	})

	v, ok := Detail(err, "is_own_lock")
	if !ok {
		t.Fatal("Expected is_own_lock detail")
	}
	if v != true {
		t.Errorf("Detail(is_own_lock) = %v, want true", v)
	}

	if _, ok := Detail(err, "missing"); ok {
		t.Error("Expected no detail for missing key")
	}

	if _, ok := Detail(New(ErrNotFound, "no lease"), "owner_id"); ok {
		t.Error("Expected no details on plain New error")
	}
}

// TestIsBusinessCondition tests the expected / unexpected split.
func TestIsBusinessCondition(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrAlreadyLocked, true},
		{ErrLockExpired, true},
		{ErrNotFound, true},
		{ErrForbidden, true},
		{ErrInvalid, false},
		{ErrDatabase, false},
		{ErrUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := IsBusinessCondition(New(tt.code, "x")); got != tt.want {
				t.Errorf("IsBusinessCondition(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
